// Package vault holds the option vault's state machine: reserves, issued
// options, hedge positions, and the aggregate exposure book. A single mutex
// serializes every mutation (single-instance). For horizontal scaling,
// replace with distributed locking or database-level optimistic concurrency.
//
// Every mutation is staged first and committed only after all checks pass,
// so a rejected buy leaves no partial state behind. The invariant maintained
// after every commit: aggregate Greeks equal the sum over all unsettled
// options.
package vault

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/optvault/vault-engine/internal/curve"
	"github.com/optvault/vault-engine/internal/fixmath"
	"github.com/optvault/vault-engine/internal/hedge"
	"github.com/optvault/vault-engine/internal/metrics"
	"github.com/optvault/vault-engine/internal/model"
	"github.com/optvault/vault-engine/internal/pricing"
	"github.com/optvault/vault-engine/internal/risk"
	"github.com/optvault/vault-engine/internal/store"
)

var (
	// ErrPaused is returned by mutations while the vault is paused.
	ErrPaused = errors.New("vault: protocol is paused")

	// ErrUnauthorized is returned when a caller other than the admin
	// invokes a gated operation.
	ErrUnauthorized = errors.New("vault: caller is not the admin")

	// ErrValidation is returned for malformed buy or settle requests.
	ErrValidation = errors.New("vault: invalid request")

	// ErrInsufficientPayment is returned when the payment does not cover
	// the quoted premium.
	ErrInsufficientPayment = errors.New("vault: payment below quoted premium")

	// ErrSizeCapExceeded is returned when a single option's amount exceeds
	// the configured per-option limit.
	ErrSizeCapExceeded = errors.New("vault: option size exceeds single-option cap")

	// ErrExposureExceeded is returned when issuing the option would push
	// absolute net delta beyond the total exposure limit.
	ErrExposureExceeded = errors.New("vault: total delta exposure limit exceeded")

	// ErrOptionNotFound is returned when no option exists for the ID.
	ErrOptionNotFound = errors.New("vault: option not found")

	// ErrHedgeNotFound is returned when no hedge exists for the ID.
	ErrHedgeNotFound = errors.New("vault: hedge not found")

	// ErrAlreadySettled is returned when settling an option twice.
	// Settlement is terminal and never idempotent.
	ErrAlreadySettled = errors.New("vault: option already settled")

	// ErrNotExpired is returned when settling before the option's expiry.
	ErrNotExpired = errors.New("vault: option has not expired")
)

// PriceSource supplies the spot price for an underlying in smallest units.
type PriceSource interface {
	SpotPrice(ctx context.Context, symbol string) (int64, error)
}

// Notifier receives vault events for broadcast. Implementations must not
// block: the vault calls Notify while holding its lock.
type Notifier interface {
	Notify(event string, payload any)
}

// Config assembles a vault. Store, Notifier and Limits are optional.
type Config struct {
	Admin          string
	Underlying     string
	RateBps        int64
	InitialReserve int64
	Risk           model.RiskParams
	Fees           model.FeeParams
	Curve          *curve.Curve
	Prices         PriceSource
	Store          store.Store
	Notifier       Notifier
	Limits         *risk.ConcentrationLimiter
}

// Vault is the option vault state machine.
type Vault struct {
	mu sync.Mutex

	admin      string
	underlying string
	rateBps    int64

	curve    *curve.Curve
	prices   PriceSource
	store    store.Store
	notifier Notifier
	limits   *risk.ConcentrationLimiter
	now      func() time.Time

	paused       bool
	reserve      int64
	feeReserve   int64
	nextOptionID uint64
	options      map[uint64]*model.OptionRecord
	hedges       map[string]*model.HedgePosition
	activeHedge  string // ID of the open hedge for the underlying, "" when none
	agg          model.Greeks
	risk         model.RiskParams
	fees         model.FeeParams
}

// New creates a vault from the config. The option counter starts at 1.
func New(cfg Config) (*Vault, error) {
	if cfg.Admin == "" || cfg.Underlying == "" {
		return nil, ErrValidation
	}
	if cfg.Curve == nil || cfg.Prices == nil {
		return nil, ErrValidation
	}
	risk := cfg.Risk
	if risk.HedgeRatioBps <= 0 {
		risk.HedgeRatioBps = hedge.DefaultRatioBps
	}
	return &Vault{
		admin:        cfg.Admin,
		underlying:   cfg.Underlying,
		rateBps:      cfg.RateBps,
		curve:        cfg.Curve,
		prices:       cfg.Prices,
		store:        cfg.Store,
		notifier:     cfg.Notifier,
		limits:       cfg.Limits,
		now:          time.Now,
		reserve:      cfg.InitialReserve,
		nextOptionID: 1,
		options:      make(map[uint64]*model.OptionRecord),
		hedges:       make(map[string]*model.HedgePosition),
		risk:         risk,
		fees:         cfg.Fees,
	}, nil
}

// SetClock overrides the vault's time source. Intended for tests.
func (v *Vault) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// --- Option lifecycle ---

// BuyRequest are the buyer-supplied terms for one option purchase.
type BuyRequest struct {
	Buyer   string           `json:"buyer"`
	Type    model.OptionType `json:"type"`
	Strike  int64            `json:"strike"`
	Expiry  int64            `json:"expiry_ms"`
	Amount  int64            `json:"amount"`
	Payment int64            `json:"payment"`
}

// BuyResult reports the issued option and the change returned to the buyer.
type BuyResult struct {
	Option  model.OptionRecord `json:"option"`
	Change  int64              `json:"change"`
	Spot    int64              `json:"spot"`
	Hedged  bool               `json:"hedged"`
	HedgeID string             `json:"hedge_id,omitempty"`
}

// BuyOption prices, validates, and issues an option. The full flow runs
// under the vault lock; state is mutated only after every check has passed,
// so any error leaves the vault exactly as it was.
func (v *Vault) BuyOption(ctx context.Context, req BuyRequest) (*BuyResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		metrics.BuyRejections.WithLabelValues("paused").Inc()
		return nil, ErrPaused
	}
	if req.Buyer == "" || req.Strike <= 0 || req.Amount <= 0 || !req.Type.Valid() {
		metrics.BuyRejections.WithLabelValues("validation").Inc()
		return nil, ErrValidation
	}
	if v.risk.MaxSingleOptionSize > 0 && req.Amount > v.risk.MaxSingleOptionSize {
		metrics.BuyRejections.WithLabelValues("size_cap").Inc()
		return nil, ErrSizeCapExceeded
	}
	if v.limits != nil {
		if err := v.limits.Check(req.Expiry, req.Amount, v.expiryNotional()); err != nil {
			metrics.BuyRejections.WithLabelValues("concentration").Inc()
			return nil, err
		}
	}

	spot, err := v.prices.SpotPrice(ctx, v.underlying)
	if err != nil {
		metrics.BuyRejections.WithLabelValues("oracle").Inc()
		return nil, err
	}
	now := v.now().UTC()
	nowMs := now.UnixMilli()

	quote, err := pricing.Price(v.curve, pricing.Inputs{
		Type:    req.Type,
		Strike:  req.Strike,
		Spot:    spot,
		Expiry:  req.Expiry,
		Now:     nowMs,
		Amount:  req.Amount,
		RateBps: v.rateBps,
	})
	if err != nil {
		metrics.BuyRejections.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	if req.Payment < quote.Premium {
		metrics.BuyRejections.WithLabelValues("payment").Inc()
		return nil, ErrInsufficientPayment
	}
	fee, err := fixmath.MulDiv(quote.Premium, v.fees.FeeBps, fixmath.BpsScale)
	if err != nil {
		metrics.BuyRejections.WithLabelValues("overflow").Inc()
		return nil, pricing.ErrOverflow
	}

	newAgg, err := addGreeks(v.agg, quote.Greeks)
	if err != nil {
		metrics.BuyRejections.WithLabelValues("overflow").Inc()
		return nil, pricing.ErrOverflow
	}
	if v.risk.MaxTotalExposure > 0 && abs(newAgg.Delta) > v.risk.MaxTotalExposure {
		metrics.BuyRejections.WithLabelValues("exposure").Inc()
		return nil, ErrExposureExceeded
	}

	// Stage the hedge decision before touching state. A resize is applied
	// to a copy first so a sizing overflow cannot leave a half-updated
	// position behind.
	var (
		act       hedge.Action
		doHedge   = hedge.ShouldHedge(v.risk, newAgg.Delta)
		resizedCp model.HedgePosition
	)
	if doHedge {
		act, err = hedge.Plan(v.risk, newAgg.Delta, v.openHedge(), v.underlying, spot, nowMs)
		if err != nil {
			metrics.BuyRejections.WithLabelValues("overflow").Inc()
			return nil, pricing.ErrOverflow
		}
		if !act.Open {
			resizedCp = *act.Position
			if err := hedge.Resize(&resizedCp, act.NewSize, spot, nowMs); err != nil {
				metrics.BuyRejections.WithLabelValues("overflow").Inc()
				return nil, pricing.ErrOverflow
			}
		}
	}

	// All checks passed: commit.
	id := v.nextOptionID
	v.nextOptionID++ // monotonic, never reused

	rec := &model.OptionRecord{
		ID:         id,
		Type:       req.Type,
		Strike:     req.Strike,
		Expiry:     req.Expiry,
		Amount:     req.Amount,
		Premium:    quote.Premium,
		Fee:        fee,
		Greeks:     quote.Greeks,
		UnitGreeks: quote.UnitGreeks,
		Buyer:      req.Buyer,
		CreatedAt:  now,
	}
	v.options[id] = rec
	v.agg = newAgg
	v.reserve += quote.Premium - fee
	v.feeReserve += fee

	var hedgeEvent string
	if doHedge {
		var pos *model.HedgePosition
		if act.Open {
			pos = act.Position
			v.hedges[pos.ID] = pos
			v.activeHedge = pos.ID
			hedgeEvent = "hedge_opened"
			metrics.HedgesOpened.Inc()
		} else {
			pos = act.Position
			*pos = resizedCp
			hedgeEvent = "hedge_resized"
			metrics.HedgesResized.Inc()
		}
		pos.OptionIDs = append(pos.OptionIDs, id)
		rec.HedgeID = pos.ID
	}

	metrics.OptionsIssued.WithLabelValues(string(req.Type)).Inc()
	metrics.PremiumVolume.Add(float64(quote.Premium))

	slog.Info("option issued",
		"id", id,
		"type", req.Type,
		"strike", req.Strike,
		"amount", req.Amount,
		"premium", quote.Premium,
		"fee", fee,
		"iv_bps", quote.IVBps,
		"net_delta", v.agg.Delta,
		"hedged", doHedge,
	)

	v.persist(ctx, rec, v.hedges[rec.HedgeID])
	v.notify("option_issued", rec)
	if hedgeEvent != "" {
		v.notify(hedgeEvent, v.hedges[rec.HedgeID])
	}

	return &BuyResult{
		Option:  *rec,
		Change:  req.Payment - quote.Premium,
		Spot:    spot,
		Hedged:  doHedge,
		HedgeID: rec.HedgeID,
	}, nil
}

// MarkSettled terminally settles an expired option: the option's Greeks
// leave the aggregate book, any intrinsic value is paid from the reserve,
// and a hedge whose linked options are all settled is closed at the current
// spot. A second call for the same option fails with ErrAlreadySettled.
func (v *Vault) MarkSettled(ctx context.Context, id uint64) (*model.OptionRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.options[id]
	if !ok {
		return nil, ErrOptionNotFound
	}
	if rec.Settled {
		return nil, ErrAlreadySettled
	}
	now := v.now().UTC()
	nowMs := now.UnixMilli()
	if nowMs < rec.Expiry {
		return nil, ErrNotExpired
	}

	spot, err := v.prices.SpotPrice(ctx, v.underlying)
	if err != nil {
		return nil, err
	}

	payout, err := intrinsicValue(rec, spot)
	if err != nil {
		return nil, pricing.ErrOverflow
	}
	newAgg, err := subGreeks(v.agg, rec.Greeks)
	if err != nil {
		return nil, pricing.ErrOverflow
	}

	rec.Settled = true
	rec.Exercised = payout > 0
	v.agg = newAgg
	if payout > 0 {
		if payout > v.reserve {
			slog.Warn("reserve short at settlement", "option", id, "payout", payout, "reserve", v.reserve)
			payout = v.reserve
		}
		v.reserve -= payout
	}

	var closed *model.HedgePosition
	if rec.HedgeID != "" {
		if pos, ok := v.hedges[rec.HedgeID]; ok && !pos.Closed && v.allSettled(pos) {
			if err := hedge.Close(pos, spot, nowMs); err == nil {
				closed = pos
				if v.activeHedge == pos.ID {
					v.activeHedge = ""
				}
			}
		}
	}

	metrics.OptionsSettled.Inc()

	slog.Info("option settled",
		"id", id,
		"exercised", rec.Exercised,
		"payout", payout,
		"net_delta", v.agg.Delta,
	)

	v.persist(ctx, rec, closed)
	v.notify("option_settled", rec)
	if closed != nil {
		v.notify("hedge_closed", closed)
	}

	return copyOption(rec), nil
}

// MarkHedges refreshes the mark price and unrealized P&L of every open
// hedge at the current spot.
func (v *Vault) MarkHedges(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	spot, err := v.prices.SpotPrice(ctx, v.underlying)
	if err != nil {
		return err
	}
	for _, pos := range v.hedges {
		if pos.Closed {
			continue
		}
		if err := hedge.MarkToMarket(pos, spot); err != nil {
			return err
		}
		if v.store != nil {
			if err := v.store.SaveHedge(ctx, pos); err != nil {
				slog.Warn("hedge persist failed", "id", pos.ID, "err", err)
			}
		}
	}
	return nil
}

// --- Admin operations ---

// Pause stops all option issuance. Settlement of existing options stays
// available.
func (v *Vault) Pause(caller string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.admin {
		return ErrUnauthorized
	}
	v.paused = true
	slog.Info("vault paused", "by", caller)
	return nil
}

// Unpause resumes option issuance.
func (v *Vault) Unpause(caller string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.admin {
		return ErrUnauthorized
	}
	v.paused = false
	slog.Info("vault unpaused", "by", caller)
	return nil
}

// UpdateRiskParams replaces the vault's risk limits.
func (v *Vault) UpdateRiskParams(caller string, p model.RiskParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.admin {
		return ErrUnauthorized
	}
	if p.MaxSingleOptionSize < 0 || p.MaxTotalExposure < 0 || p.HedgeThreshold < 0 {
		return ErrValidation
	}
	if p.HedgeRatioBps <= 0 || p.HedgeRatioBps > fixmath.BpsScale {
		return ErrValidation
	}
	v.risk = p
	slog.Info("risk params updated", "by", caller,
		"max_size", p.MaxSingleOptionSize,
		"max_exposure", p.MaxTotalExposure,
		"threshold", p.HedgeThreshold,
		"ratio_bps", p.HedgeRatioBps,
	)
	return nil
}

// UpdateFeeParams replaces the vault's fee schedule.
func (v *Vault) UpdateFeeParams(caller string, p model.FeeParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.admin {
		return ErrUnauthorized
	}
	if p.FeeBps < 0 || p.FeeBps > fixmath.BpsScale {
		return ErrValidation
	}
	v.fees = p
	slog.Info("fee params updated", "by", caller, "fee_bps", p.FeeBps)
	return nil
}

// --- Read surface ---

// Option returns a copy of the option record for the ID.
func (v *Vault) Option(id uint64) (*model.OptionRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.options[id]
	if !ok {
		return nil, ErrOptionNotFound
	}
	return copyOption(rec), nil
}

// Options returns copies of all option records ordered by ID.
func (v *Vault) Options() []model.OptionRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.OptionRecord, 0, len(v.options))
	for id := uint64(1); id < v.nextOptionID; id++ {
		if rec, ok := v.options[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Hedge returns a copy of the hedge position for the ID.
func (v *Vault) Hedge(id string) (*model.HedgePosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pos, ok := v.hedges[id]
	if !ok {
		return nil, ErrHedgeNotFound
	}
	return copyHedge(pos), nil
}

// Hedges returns copies of all hedge positions.
func (v *Vault) Hedges() []model.HedgePosition {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.HedgePosition, 0, len(v.hedges))
	for _, pos := range v.hedges {
		out = append(out, *copyHedge(pos))
	}
	return out
}

// Metrics returns a snapshot of the vault's scalar state.
func (v *Vault) Metrics() model.VaultMetrics {
	v.mu.Lock()
	defer v.mu.Unlock()

	active := 0
	for _, rec := range v.options {
		if rec.Active() {
			active++
		}
	}
	openHedges := 0
	for _, pos := range v.hedges {
		if !pos.Closed {
			openHedges++
		}
	}
	return model.VaultMetrics{
		Underlying:    v.underlying,
		Reserve:       v.reserve,
		FeeReserve:    v.feeReserve,
		ActiveOptions: active,
		TotalOptions:  int(v.nextOptionID - 1),
		OpenHedges:    openHedges,
		Aggregate:     v.agg,
		Paused:        v.paused,
		Risk:          v.risk,
		Fees:          v.fees,
	}
}

// --- Persistence ---

// Restore loads persisted state from the store. Missing snapshot means a
// fresh vault; that is not an error.
func (v *Vault) Restore(ctx context.Context) error {
	if v.store == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	snap, err := v.store.GetSnapshot(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	opts, err := v.store.ListOptions(ctx)
	if err != nil {
		return err
	}
	hedges, err := v.store.ListHedges(ctx)
	if err != nil {
		return err
	}

	v.underlying = snap.Underlying
	v.reserve = snap.Reserve
	v.feeReserve = snap.FeeReserve
	v.nextOptionID = snap.NextOptionID
	v.agg = snap.Aggregate
	v.risk = snap.Risk
	v.fees = snap.Fees
	v.paused = snap.Paused

	v.options = make(map[uint64]*model.OptionRecord, len(opts))
	for i := range opts {
		rec := opts[i]
		v.options[rec.ID] = &rec
	}
	v.hedges = make(map[string]*model.HedgePosition, len(hedges))
	v.activeHedge = ""
	for i := range hedges {
		pos := hedges[i]
		v.hedges[pos.ID] = &pos
		if !pos.Closed {
			v.activeHedge = pos.ID
		}
	}

	slog.Info("vault state restored",
		"options", len(opts),
		"hedges", len(hedges),
		"next_id", v.nextOptionID,
	)
	return nil
}

// persist writes the mutated records and the snapshot through to the
// store. Persistence failures are logged, not rolled back: in-memory state
// is the source of truth within a process lifetime.
func (v *Vault) persist(ctx context.Context, rec *model.OptionRecord, pos *model.HedgePosition) {
	if v.store == nil {
		return
	}
	if rec != nil {
		if err := v.store.SaveOption(ctx, rec); err != nil {
			slog.Warn("option persist failed", "id", rec.ID, "err", err)
		}
	}
	if pos != nil {
		if err := v.store.SaveHedge(ctx, pos); err != nil {
			slog.Warn("hedge persist failed", "id", pos.ID, "err", err)
		}
	}
	snap := store.Snapshot{
		Underlying:   v.underlying,
		Reserve:      v.reserve,
		FeeReserve:   v.feeReserve,
		NextOptionID: v.nextOptionID,
		Aggregate:    v.agg,
		Risk:         v.risk,
		Fees:         v.fees,
		Paused:       v.paused,
	}
	if err := v.store.SaveSnapshot(ctx, &snap); err != nil {
		slog.Warn("snapshot persist failed", "err", err)
	}
}

func (v *Vault) notify(event string, payload any) {
	if v.notifier != nil {
		v.notifier.Notify(event, payload)
	}
}

// --- Internals ---

// openHedge returns the active hedge position, or nil.
func (v *Vault) openHedge() *model.HedgePosition {
	if v.activeHedge == "" {
		return nil
	}
	pos, ok := v.hedges[v.activeHedge]
	if !ok || pos.Closed {
		return nil
	}
	return pos
}

// expiryNotional sums active option amounts by expiry timestamp.
func (v *Vault) expiryNotional() map[int64]int64 {
	out := make(map[int64]int64, len(v.options))
	for _, rec := range v.options {
		if rec.Active() {
			out[rec.Expiry] += rec.Amount
		}
	}
	return out
}

// allSettled reports whether every option linked to the hedge is settled.
func (v *Vault) allSettled(pos *model.HedgePosition) bool {
	for _, id := range pos.OptionIDs {
		if rec, ok := v.options[id]; ok && !rec.Settled {
			return false
		}
	}
	return true
}

// intrinsicValue computes the expiry payout of an option at the given spot.
func intrinsicValue(rec *model.OptionRecord, spot int64) (int64, error) {
	var perUnit int64
	if rec.Type == model.OptionCall && spot > rec.Strike {
		perUnit = spot - rec.Strike
	}
	if rec.Type == model.OptionPut && spot < rec.Strike {
		perUnit = rec.Strike - spot
	}
	if perUnit == 0 {
		return 0, nil
	}
	return fixmath.MulInt(perUnit, rec.Amount)
}

func addGreeks(a, b model.Greeks) (model.Greeks, error) {
	var out model.Greeks
	var err error
	if out.Delta, err = fixmath.Add(a.Delta, b.Delta); err != nil {
		return out, err
	}
	if out.Gamma, err = fixmath.Add(a.Gamma, b.Gamma); err != nil {
		return out, err
	}
	if out.Theta, err = fixmath.Add(a.Theta, b.Theta); err != nil {
		return out, err
	}
	if out.Vega, err = fixmath.Add(a.Vega, b.Vega); err != nil {
		return out, err
	}
	return out, nil
}

func subGreeks(a, b model.Greeks) (model.Greeks, error) {
	var out model.Greeks
	var err error
	if out.Delta, err = fixmath.Sub(a.Delta, b.Delta); err != nil {
		return out, err
	}
	if out.Gamma, err = fixmath.Sub(a.Gamma, b.Gamma); err != nil {
		return out, err
	}
	if out.Theta, err = fixmath.Sub(a.Theta, b.Theta); err != nil {
		return out, err
	}
	if out.Vega, err = fixmath.Sub(a.Vega, b.Vega); err != nil {
		return out, err
	}
	return out, nil
}

func copyOption(rec *model.OptionRecord) *model.OptionRecord {
	cp := *rec
	return &cp
}

func copyHedge(pos *model.HedgePosition) *model.HedgePosition {
	cp := *pos
	cp.OptionIDs = append([]uint64(nil), pos.OptionIDs...)
	return &cp
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, pricing.ErrExpiredTerms):
		return "expired"
	case errors.Is(err, pricing.ErrOverflow):
		return "overflow"
	default:
		return "validation"
	}
}
