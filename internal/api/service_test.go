package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/optvault/vault-engine/internal/api"
	"github.com/optvault/vault-engine/internal/curve"
	"github.com/optvault/vault-engine/internal/model"
	"github.com/optvault/vault-engine/internal/oracle"
	"github.com/optvault/vault-engine/internal/vault"
)

const testSpot = int64(50_000_000)

type env struct {
	vault  *vault.Vault
	curve  *curve.Curve
	router chi.Router
	nowMs  int64
}

func (e *env) advance(d time.Duration) { e.nowMs += d.Milliseconds() }

// newTestEnv creates a test Service backed by an in-memory vault and a
// fixed price source.
func newTestEnv(t *testing.T) *env {
	t.Helper()

	c := curve.New("admin", curve.Params{})
	prices := oracle.NewFixed(map[string]int64{"BTCUSDT": testSpot})

	v, err := vault.New(vault.Config{
		Admin:          "admin",
		Underlying:     "BTCUSDT",
		RateBps:        500,
		InitialReserve: 1 << 50,
		Risk: model.RiskParams{
			MaxSingleOptionSize: 1_000_000,
			MaxTotalExposure:    1 << 50,
			HedgeThreshold:      1 << 50,
			HedgeRatioBps:       8_000,
		},
		Fees:   model.FeeParams{FeeBps: 50},
		Curve:  c,
		Prices: prices,
	})
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	e := &env{vault: v, curve: c, nowMs: time.Now().UnixMilli()}
	v.SetClock(func() time.Time { return time.UnixMilli(e.nowMs).UTC() })

	svc := api.NewService(v, c, prices, "BTCUSDT", 500)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	e.router = r
	return e
}

func (e *env) do(t *testing.T, method, path string, body any, caller string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) buyBody(amount int64) vault.BuyRequest {
	return vault.BuyRequest{
		Buyer:   "alice",
		Type:    model.OptionCall,
		Strike:  testSpot,
		Expiry:  e.nowMs + 30*24*int64(time.Hour/time.Millisecond),
		Amount:  amount,
		Payment: 1 << 40,
	}
}

func TestBuyOptionEndpoint(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/api/v1/options", e.buyBody(2), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var res vault.BuyResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.Option.ID != 1 {
		t.Fatalf("option id = %d, want 1", res.Option.ID)
	}
	if res.Option.Premium <= 0 || res.Option.Fee <= 0 {
		t.Fatalf("premium/fee = %d/%d, want positive", res.Option.Premium, res.Option.Fee)
	}
	if res.Spot != testSpot {
		t.Fatalf("spot = %d", res.Spot)
	}
}

func TestBuyOptionInsufficientPayment(t *testing.T) {
	e := newTestEnv(t)

	body := e.buyBody(1)
	body.Payment = 1
	w := e.do(t, "POST", "/api/v1/options", body, "")
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBuyOptionBadBody(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/options", bytes.NewReader([]byte("{nope")))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSettleEndpoint(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/api/v1/options", e.buyBody(1), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("buy: %d", w.Code)
	}

	// Too early.
	w = e.do(t, "POST", "/api/v1/options/1/settle", nil, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("early settle: expected 409, got %d", w.Code)
	}

	e.advance(31 * 24 * time.Hour)
	w = e.do(t, "POST", "/api/v1/options/1/settle", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rec model.OptionRecord
	json.Unmarshal(w.Body.Bytes(), &rec)
	if !rec.Settled {
		t.Fatal("record not settled")
	}

	// Settlement is terminal.
	w = e.do(t, "POST", "/api/v1/options/1/settle", nil, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("double settle: expected 409, got %d", w.Code)
	}

	// Unknown option.
	w = e.do(t, "POST", "/api/v1/options/99/settle", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown option: expected 404, got %d", w.Code)
	}
}

func TestPauseEndpoints(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(t, "POST", "/api/v1/admin/pause", nil, "mallory"); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin pause: expected 403, got %d", w.Code)
	}
	if w := e.do(t, "POST", "/api/v1/admin/pause", nil, "admin"); w.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", w.Code)
	}
	if w := e.do(t, "POST", "/api/v1/options", e.buyBody(1), ""); w.Code != http.StatusConflict {
		t.Fatalf("paused buy: expected 409, got %d", w.Code)
	}
	if w := e.do(t, "POST", "/api/v1/admin/unpause", nil, "admin"); w.Code != http.StatusOK {
		t.Fatalf("unpause: expected 200, got %d", w.Code)
	}
	if w := e.do(t, "POST", "/api/v1/options", e.buyBody(1), ""); w.Code != http.StatusCreated {
		t.Fatalf("buy after unpause: expected 201, got %d", w.Code)
	}
}

func TestSurfaceUpdateGate(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]int64{"strike": testSpot, "iv_bps": 9_000}

	if w := e.do(t, "PUT", "/api/v1/admin/curve/surface", body, "mallory"); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin surface update: expected 403, got %d", w.Code)
	}
	if w := e.do(t, "PUT", "/api/v1/admin/curve/surface", body, "admin"); w.Code != http.StatusOK {
		t.Fatalf("surface update: expected 200, got %d", w.Code)
	}
	if got := e.curve.ImpliedVolatility(testSpot); got != 9_000 {
		t.Fatalf("surface IV = %d, want 9000", got)
	}

	// Zero vol rejected.
	body["iv_bps"] = 0
	if w := e.do(t, "PUT", "/api/v1/admin/curve/surface", body, "admin"); w.Code != http.StatusBadRequest {
		t.Fatalf("zero vol: expected 400, got %d", w.Code)
	}
}

func TestGetCurveAndVault(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/api/v1/curve", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("curve: %d", w.Code)
	}
	var cv struct {
		Params curve.Params `json:"params"`
	}
	json.Unmarshal(w.Body.Bytes(), &cv)
	if cv.Params.DefaultIVBps != curve.DefaultIVBps {
		t.Fatalf("default iv = %d", cv.Params.DefaultIVBps)
	}

	w = e.do(t, "GET", "/api/v1/vault", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("vault: %d", w.Code)
	}
	var m model.VaultMetrics
	json.Unmarshal(w.Body.Bytes(), &m)
	if m.Underlying != "BTCUSDT" || m.Paused {
		t.Fatalf("vault snapshot: %+v", m)
	}
}

func TestCurveSweep(t *testing.T) {
	e := newTestEnv(t)
	expiry := e.nowMs + 30*24*int64(time.Hour/time.Millisecond)

	path := fmt.Sprintf("/api/v1/curve/sweep?type=call&expiry_ms=%d&from=%d&to=%d&step=%d",
		expiry, testSpot-10_000_000, testSpot+10_000_000, 5_000_000)
	w := e.do(t, "GET", path, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("sweep: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var out struct {
		Spot   int64 `json:"spot"`
		Points []struct {
			Strike  int64 `json:"strike"`
			Premium int64 `json:"premium"`
		} `json:"points"`
	}
	json.Unmarshal(w.Body.Bytes(), &out)
	if out.Spot != testSpot || len(out.Points) != 5 {
		t.Fatalf("sweep shape: spot %d, %d points", out.Spot, len(out.Points))
	}
	for i := 1; i < len(out.Points); i++ {
		if out.Points[i].Premium > out.Points[i-1].Premium {
			t.Fatalf("call premium increased with strike at point %d", i)
		}
	}

	// The type parameter is case-insensitive.
	path = fmt.Sprintf("/api/v1/curve/sweep?type=PUT&expiry_ms=%d&from=%d&to=%d&step=%d",
		expiry, testSpot-10_000_000, testSpot+10_000_000, 5_000_000)
	if w := e.do(t, "GET", path, nil, ""); w.Code != http.StatusOK {
		t.Fatalf("uppercase type: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Oversized grid rejected.
	path = fmt.Sprintf("/api/v1/curve/sweep?type=call&expiry_ms=%d&from=1&to=1000000&step=1", expiry)
	if w := e.do(t, "GET", path, nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("oversized grid: expected 400, got %d", w.Code)
	}

	// Bad type rejected.
	if w := e.do(t, "GET", "/api/v1/curve/sweep?type=straddle&expiry_ms=1&from=1&to=2&step=1", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad type: expected 400, got %d", w.Code)
	}
}

func TestOptionReads(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, "POST", "/api/v1/options", e.buyBody(1), "")

	w := e.do(t, "GET", "/api/v1/options/1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get option: %d", w.Code)
	}
	w = e.do(t, "GET", "/api/v1/options/42", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing option: expected 404, got %d", w.Code)
	}

	w = e.do(t, "GET", "/api/v1/options", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list options: %d", w.Code)
	}
	var list []model.OptionRecord
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Fatalf("list len = %d", len(list))
	}
}

func TestRiskParamUpdateEndpoint(t *testing.T) {
	e := newTestEnv(t)
	params := model.RiskParams{
		MaxSingleOptionSize: 5,
		MaxTotalExposure:    100_000,
		HedgeThreshold:      5_000,
		HedgeRatioBps:       8_000,
	}

	if w := e.do(t, "PUT", "/api/v1/admin/risk", params, "mallory"); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin risk update: expected 403, got %d", w.Code)
	}
	if w := e.do(t, "PUT", "/api/v1/admin/risk", params, "admin"); w.Code != http.StatusOK {
		t.Fatalf("risk update: expected 200, got %d", w.Code)
	}

	// The new single-option cap is enforced.
	if w := e.do(t, "POST", "/api/v1/options", e.buyBody(6), ""); w.Code != http.StatusConflict {
		t.Fatalf("over-cap buy: expected 409, got %d", w.Code)
	}
}
