// Package curve holds the volatility surface and premium adjustments used
// by the pricing engine: per-strike implied volatilities with a documented
// default fallback, put/call and moneyness skews, a liquidity premium, a
// theta multiplier, and a hedge-cost adjustment.
//
// All volatilities and adjustments are basis points (1/10000). The curve has
// no side effects beyond its own state and never fails except on an
// unauthorized or invalid update.
package curve

import (
	"errors"
	"sort"
	"sync"

	"github.com/optvault/vault-engine/internal/model"
)

var (
	// ErrUnauthorized is returned when a caller other than the curve admin
	// attempts an update.
	ErrUnauthorized = errors.New("curve: caller is not the curve admin")

	// ErrInvalidVol is returned for a non-positive implied volatility.
	ErrInvalidVol = errors.New("curve: implied volatility must be positive")
)

// DefaultIVBps is the fallback implied volatility (80%) used for strikes
// with no surface entry. The fallback is deliberate and explicit: a missing
// strike prices at this default, never at zero.
const DefaultIVBps int64 = 8_000

// SkewBucket adjusts implied volatility for a moneyness band.
// Moneyness is spot/strike in basis points; the first bucket whose
// UpToBps bound is not exceeded applies.
type SkewBucket struct {
	UpToBps int64 `json:"up_to_bps" yaml:"up_to_bps"`
	AdjBps  int64 `json:"adj_bps" yaml:"adj_bps"`
}

// Params are the non-surface adjustments carried by a curve.
type Params struct {
	DefaultIVBps       int64        `json:"default_iv_bps" yaml:"default_iv_bps"`
	PutSkewBps         int64        `json:"put_skew_bps" yaml:"put_skew_bps"`
	MoneynessSkew      []SkewBucket `json:"moneyness_skew" yaml:"moneyness_skew"`
	LiquidityBps       int64        `json:"liquidity_bps" yaml:"liquidity_bps"`
	ThetaMultiplierBps int64        `json:"theta_multiplier_bps" yaml:"theta_multiplier_bps"`
	HedgeCostBps       int64        `json:"hedge_cost_bps" yaml:"hedge_cost_bps"`
	OracleRef          string       `json:"oracle_ref" yaml:"oracle_ref"`
}

// Curve is the premium curve for one underlying. Safe for concurrent reads;
// updates are admin-gated and serialized internally.
type Curve struct {
	mu      sync.RWMutex
	admin   string
	surface map[int64]int64 // strike (smallest units) → IV bps
	params  Params

	lastVolUpdate   int64 // unix ms
	lastParamUpdate int64 // unix ms
}

// New creates a curve administered by admin. Zero-valued params fall back
// to conservative defaults (default IV, neutral multiplier).
func New(admin string, params Params) *Curve {
	if params.DefaultIVBps <= 0 {
		params.DefaultIVBps = DefaultIVBps
	}
	if params.ThetaMultiplierBps <= 0 {
		params.ThetaMultiplierBps = 10_000 // neutral
	}
	// Buckets must be scanned in ascending bound order.
	sort.Slice(params.MoneynessSkew, func(i, j int) bool {
		return params.MoneynessSkew[i].UpToBps < params.MoneynessSkew[j].UpToBps
	})
	return &Curve{
		admin:   admin,
		surface: make(map[int64]int64),
		params:  params,
	}
}

// ImpliedVolatility returns the surface IV for an exact strike match, or
// the configured default when the strike has no entry.
func (c *Curve) ImpliedVolatility(strike int64) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if iv, ok := c.surface[strike]; ok {
		return iv
	}
	return c.params.DefaultIVBps
}

// AdjustedVolatility returns the IV for pricing: the surface (or default)
// volatility with put skew and moneyness skew applied. Adjustments are
// multiplicative in basis points and the result is floored at one basis
// point so a heavy negative skew can never zero out time value.
func (c *Curve) AdjustedVolatility(strike, spot int64, optType model.OptionType) int64 {
	iv := c.ImpliedVolatility(strike)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if optType == model.OptionPut && c.params.PutSkewBps != 0 {
		iv += iv * c.params.PutSkewBps / 10_000
	}

	if len(c.params.MoneynessSkew) > 0 && strike > 0 {
		moneyness := spot * 10_000 / strike
		for _, b := range c.params.MoneynessSkew {
			if moneyness <= b.UpToBps {
				iv += iv * b.AdjBps / 10_000
				break
			}
		}
	}

	if iv < 1 {
		iv = 1
	}
	return iv
}

// UpdateSurface overwrites or inserts the IV for one strike. Admin only.
func (c *Curve) UpdateSurface(caller string, strike, ivBps, nowMs int64) error {
	if caller != c.admin {
		return ErrUnauthorized
	}
	if ivBps <= 0 {
		return ErrInvalidVol
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface[strike] = ivBps
	c.lastVolUpdate = nowMs
	return nil
}

// UpdateParams replaces the non-surface adjustments. Admin only.
func (c *Curve) UpdateParams(caller string, params Params, nowMs int64) error {
	if caller != c.admin {
		return ErrUnauthorized
	}
	if params.DefaultIVBps <= 0 {
		return ErrInvalidVol
	}
	sort.Slice(params.MoneynessSkew, func(i, j int) bool {
		return params.MoneynessSkew[i].UpToBps < params.MoneynessSkew[j].UpToBps
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = params
	c.lastParamUpdate = nowMs
	return nil
}

// LiquidityBps returns the liquidity premium surcharge in basis points.
func (c *Curve) LiquidityBps() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params.LiquidityBps
}

// ThetaMultiplierBps returns the theta multiplier (10000 = neutral).
func (c *Curve) ThetaMultiplierBps() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params.ThetaMultiplierBps
}

// HedgeCostBps returns the hedge-cost adjustment in basis points.
func (c *Curve) HedgeCostBps() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params.HedgeCostBps
}

// Params returns a copy of the pricing adjustment parameters.
func (c *Curve) Params() Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.params
	p.MoneynessSkew = append([]SkewBucket(nil), c.params.MoneynessSkew...)
	return p
}

// LastVolUpdate returns the unix-ms timestamp of the last surface write.
func (c *Curve) LastVolUpdate() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastVolUpdate
}

// Surface returns a copy of the per-strike IV map.
func (c *Curve) Surface() map[int64]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[int64]int64, len(c.surface))
	for k, v := range c.surface {
		out[k] = v
	}
	return out
}
