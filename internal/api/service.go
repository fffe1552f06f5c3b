// Package api provides the HTTP surface of the vault engine: option
// purchase and settlement, hedge and vault inspection, curve reads, and
// admin-gated parameter updates.
//
// Admin endpoints identify the caller through the X-Caller header; the
// vault and curve decide whether that caller is authorized.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/optvault/vault-engine/internal/curve"
	"github.com/optvault/vault-engine/internal/model"
	"github.com/optvault/vault-engine/internal/pricing"
	"github.com/optvault/vault-engine/internal/risk"
	"github.com/optvault/vault-engine/internal/vault"
)

// callerHeader carries the identity used for admin-gated operations.
const callerHeader = "X-Caller"

// sweepMaxPoints caps the strike grid of a curve sweep request.
const sweepMaxPoints = 200

// Service handles vault HTTP operations.
type Service struct {
	vault   *vault.Vault
	curve   *curve.Curve
	prices  vault.PriceSource
	symbol  string
	rateBps int64
}

// NewService creates the HTTP service around a vault.
func NewService(v *vault.Vault, c *curve.Curve, prices vault.PriceSource, symbol string, rateBps int64) *Service {
	return &Service{vault: v, curve: c, prices: prices, symbol: symbol, rateBps: rateBps}
}

// Routes mounts all handlers on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/options", s.BuyOption)
	r.Get("/options", s.ListOptions)
	r.Get("/options/{optionID}", s.GetOption)
	r.Post("/options/{optionID}/settle", s.SettleOption)

	r.Get("/hedges", s.ListHedges)
	r.Get("/hedges/{hedgeID}", s.GetHedge)
	r.Post("/hedges/mark", s.MarkHedges)

	r.Get("/vault", s.GetVault)

	r.Get("/curve", s.GetCurve)
	r.Get("/curve/sweep", s.SweepCurve)

	r.Put("/admin/curve/surface", s.UpdateSurface)
	r.Put("/admin/curve/params", s.UpdateCurveParams)
	r.Put("/admin/risk", s.UpdateRiskParams)
	r.Put("/admin/fees", s.UpdateFeeParams)
	r.Post("/admin/pause", s.Pause)
	r.Post("/admin/unpause", s.Unpause)
}

// BuyOption handles POST /api/v1/options.
func (s *Service) BuyOption(w http.ResponseWriter, r *http.Request) {
	var req vault.BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.vault.BuyOption(r.Context(), req)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// SettleOption handles POST /api/v1/options/{optionID}/settle.
func (s *Service) SettleOption(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "optionID"), 10, 64)
	if err != nil {
		writeError(w, "invalid option id", http.StatusBadRequest)
		return
	}

	rec, err := s.vault.MarkSettled(r.Context(), id)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetOption handles GET /api/v1/options/{optionID}.
func (s *Service) GetOption(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "optionID"), 10, 64)
	if err != nil {
		writeError(w, "invalid option id", http.StatusBadRequest)
		return
	}
	rec, err := s.vault.Option(id)
	if err != nil {
		writeError(w, "option not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListOptions handles GET /api/v1/options.
func (s *Service) ListOptions(w http.ResponseWriter, r *http.Request) {
	opts := s.vault.Options()
	if opts == nil {
		opts = []model.OptionRecord{}
	}
	writeJSON(w, http.StatusOK, opts)
}

// GetHedge handles GET /api/v1/hedges/{hedgeID}.
func (s *Service) GetHedge(w http.ResponseWriter, r *http.Request) {
	pos, err := s.vault.Hedge(chi.URLParam(r, "hedgeID"))
	if err != nil {
		writeError(w, "hedge not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListHedges handles GET /api/v1/hedges.
func (s *Service) ListHedges(w http.ResponseWriter, r *http.Request) {
	hedges := s.vault.Hedges()
	if hedges == nil {
		hedges = []model.HedgePosition{}
	}
	writeJSON(w, http.StatusOK, hedges)
}

// MarkHedges handles POST /api/v1/hedges/mark: refreshes mark price and
// unrealized P&L of every open hedge.
func (s *Service) MarkHedges(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.MarkHedges(r.Context()); err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, s.vault.Hedges())
}

// GetVault handles GET /api/v1/vault.
func (s *Service) GetVault(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.vault.Metrics())
}

// curveView is the read model for GET /api/v1/curve.
type curveView struct {
	Params        curve.Params    `json:"params"`
	Surface       map[int64]int64 `json:"surface"`
	LastVolUpdate int64           `json:"last_vol_update_ms"`
}

// GetCurve handles GET /api/v1/curve.
func (s *Service) GetCurve(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, curveView{
		Params:        s.curve.Params(),
		Surface:       s.curve.Surface(),
		LastVolUpdate: s.curve.LastVolUpdate(),
	})
}

// sweepPoint is one strike's quote in a curve sweep.
type sweepPoint struct {
	Strike  int64        `json:"strike"`
	Premium int64        `json:"premium"`
	IVBps   int64        `json:"iv_bps"`
	Greeks  model.Greeks `json:"greeks"`
}

// SweepCurve handles GET /api/v1/curve/sweep. Query parameters: type,
// expiry_ms, from, to, step, now_ms (optional, defaults to server time),
// amount (optional, defaults to 1). Returns quotes across the strike grid.
func (s *Service) SweepCurve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	optType := model.OptionType(strings.ToUpper(q.Get("type")))
	if !optType.Valid() {
		writeError(w, "type must be call or put", http.StatusBadRequest)
		return
	}
	expiry, err := strconv.ParseInt(q.Get("expiry_ms"), 10, 64)
	if err != nil {
		writeError(w, "expiry_ms is required", http.StatusBadRequest)
		return
	}
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	step, err3 := strconv.ParseInt(q.Get("step"), 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || from <= 0 || to < from || step <= 0 {
		writeError(w, "from, to, step must form a positive strike grid", http.StatusBadRequest)
		return
	}
	if (to-from)/step+1 > sweepMaxPoints {
		writeError(w, "strike grid too large", http.StatusBadRequest)
		return
	}
	amount := int64(1)
	if v := q.Get("amount"); v != "" {
		if amount, err = strconv.ParseInt(v, 10, 64); err != nil || amount <= 0 {
			writeError(w, "amount must be positive", http.StatusBadRequest)
			return
		}
	}

	spot, err := s.prices.SpotPrice(r.Context(), s.symbol)
	if err != nil {
		writeError(w, "spot price unavailable", http.StatusBadGateway)
		return
	}
	now := nowMillis()

	var points []sweepPoint
	for strike := from; strike <= to; strike += step {
		quote, err := pricing.Price(s.curve, pricing.Inputs{
			Type:    optType,
			Strike:  strike,
			Spot:    spot,
			Expiry:  expiry,
			Now:     now,
			Amount:  amount,
			RateBps: s.rateBps,
		})
		if err != nil {
			writeVaultError(w, err)
			return
		}
		points = append(points, sweepPoint{
			Strike:  strike,
			Premium: quote.Premium,
			IVBps:   quote.IVBps,
			Greeks:  quote.Greeks,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"spot":   spot,
		"points": points,
	})
}

// surfaceUpdate is the JSON body for PUT /api/v1/admin/curve/surface.
type surfaceUpdate struct {
	Strike int64 `json:"strike"`
	IVBps  int64 `json:"iv_bps"`
}

// UpdateSurface handles PUT /api/v1/admin/curve/surface.
func (s *Service) UpdateSurface(w http.ResponseWriter, r *http.Request) {
	var req surfaceUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	caller := r.Header.Get(callerHeader)
	if err := s.curve.UpdateSurface(caller, req.Strike, req.IVBps, nowMillis()); err != nil {
		writeCurveError(w, err)
		return
	}
	slog.Info("vol surface updated", "by", caller, "strike", req.Strike, "iv_bps", req.IVBps)
	writeJSON(w, http.StatusOK, map[string]int64{"strike": req.Strike, "iv_bps": req.IVBps})
}

// UpdateCurveParams handles PUT /api/v1/admin/curve/params.
func (s *Service) UpdateCurveParams(w http.ResponseWriter, r *http.Request) {
	var params curve.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	caller := r.Header.Get(callerHeader)
	if err := s.curve.UpdateParams(caller, params, nowMillis()); err != nil {
		writeCurveError(w, err)
		return
	}
	slog.Info("curve params updated", "by", caller)
	writeJSON(w, http.StatusOK, s.curve.Params())
}

// UpdateRiskParams handles PUT /api/v1/admin/risk.
func (s *Service) UpdateRiskParams(w http.ResponseWriter, r *http.Request) {
	var params model.RiskParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.vault.UpdateRiskParams(r.Header.Get(callerHeader), params); err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

// UpdateFeeParams handles PUT /api/v1/admin/fees.
func (s *Service) UpdateFeeParams(w http.ResponseWriter, r *http.Request) {
	var params model.FeeParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.vault.UpdateFeeParams(r.Header.Get(callerHeader), params); err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

// Pause handles POST /api/v1/admin/pause.
func (s *Service) Pause(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Pause(r.Header.Get(callerHeader)); err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Unpause handles POST /api/v1/admin/unpause.
func (s *Service) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Unpause(r.Header.Get(callerHeader)); err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// --- Response helpers ---

func nowMillis() int64 { return time.Now().UnixMilli() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeVaultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vault.ErrValidation), errors.Is(err, pricing.ErrInvalidTerms):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, vault.ErrUnauthorized):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, vault.ErrInsufficientPayment):
		writeError(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, vault.ErrOptionNotFound), errors.Is(err, vault.ErrHedgeNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, vault.ErrPaused),
		errors.Is(err, vault.ErrAlreadySettled),
		errors.Is(err, vault.ErrNotExpired),
		errors.Is(err, vault.ErrSizeCapExceeded),
		errors.Is(err, vault.ErrExposureExceeded),
		errors.Is(err, risk.ErrPerExpiryLimitExceeded),
		errors.Is(err, risk.ErrWindowLimitExceeded):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pricing.ErrExpiredTerms), errors.Is(err, pricing.ErrOverflow):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeCurveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, curve.ErrUnauthorized):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, curve.ErrInvalidVol):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
