// Package pricing implements the closed-form Black-Scholes premium and
// Greeks computation for European crypto options, entirely in fixed-point
// arithmetic (see internal/fixmath).
//
// Price is a pure function: no mutation, no I/O, and identical inputs always
// produce identical outputs. Spot and clock are supplied by the caller as
// already-resolved values, so the vault's aggregate-exposure invariant is
// reproducible and tests can assert exact integers.
//
// Conventions:
//   - spot, strike, premium: int64 in the asset's smallest unit
//   - Greeks: int64 scaled by fixmath.GreekScale (1e4); vega is smallest
//     units per volatility point, theta smallest units per year
//   - volatility and rate inputs: basis points
package pricing

import (
	"errors"

	"github.com/optvault/vault-engine/internal/curve"
	"github.com/optvault/vault-engine/internal/fixmath"
	"github.com/optvault/vault-engine/internal/model"
)

var (
	// ErrExpiredTerms is returned when expiry is at or before the supplied
	// clock value.
	ErrExpiredTerms = errors.New("pricing: option terms already expired")

	// ErrInvalidTerms is returned for non-positive spot, strike, or amount.
	ErrInvalidTerms = errors.New("pricing: spot, strike, and amount must be positive")

	// ErrOverflow is returned when a scaled quantity exceeds the
	// representable integer range. Never silently wrapped.
	ErrOverflow = errors.New("pricing: arithmetic overflow")
)

const (
	msPerYear int64 = 31_536_000_000 // 365 days

	// minTimeYears clamps time-to-expiry to one minute (in fixed-point
	// years). Near-dated options therefore keep a sliver of time value
	// instead of truncating to a zero year fraction; the degenerate
	// zero-time case is rejected upstream by the expiry gate.
	minTimeYears = fixmath.Scale * 60 / 31_536_000

	// bpsToScale lifts a basis-point value to fixmath.Scale.
	bpsToScale = fixmath.Scale / fixmath.BpsScale

	// scaleToGreek drops a fixmath.Scale fraction to GreekScale.
	scaleToGreek = fixmath.Scale / fixmath.GreekScale
)

// Inputs are the market and contract terms for one pricing call.
type Inputs struct {
	Type    model.OptionType
	Strike  int64 // smallest units
	Spot    int64 // smallest units
	Expiry  int64 // unix ms
	Now     int64 // unix ms
	Amount  int64 // contract count
	RateBps int64 // risk-free rate, basis points
}

// Quote is the result of pricing one option at contract size.
type Quote struct {
	Premium     int64        // total premium incl. liquidity surcharge, smallest units
	UnitPremium int64        // per single contract, before surcharge
	Greeks      model.Greeks // at contract size
	UnitGreeks  model.Greeks // per single contract
	IVBps       int64        // adjusted volatility used
	TimeYears   int64        // clamped year fraction, at fixmath.Scale
}

// Price computes the Black-Scholes premium and Greeks for the given terms
// against the supplied premium curve.
func Price(c *curve.Curve, in Inputs) (Quote, error) {
	if in.Expiry <= in.Now {
		return Quote{}, ErrExpiredTerms
	}
	if in.Spot <= 0 || in.Strike <= 0 || in.Amount <= 0 {
		return Quote{}, ErrInvalidTerms
	}
	if !in.Type.Valid() {
		return Quote{}, ErrInvalidTerms
	}

	q, err := price(c, in)
	if err != nil {
		// Inputs are validated above, so any remaining failure is a
		// range problem in the scaled arithmetic.
		return Quote{}, ErrOverflow
	}
	return q, nil
}

func price(c *curve.Curve, in Inputs) (Quote, error) {
	tm, err := fixmath.MulDiv(in.Expiry-in.Now, fixmath.Scale, msPerYear)
	if err != nil {
		return Quote{}, err
	}
	if tm < minTimeYears {
		tm = minTimeYears
	}

	ivBps := c.AdjustedVolatility(in.Strike, in.Spot, in.Type)
	vol := ivBps * bpsToScale
	rate := in.RateBps * bpsToScale

	sqrtT, err := fixmath.Sqrt(tm)
	if err != nil {
		return Quote{}, err
	}
	volSqrtT, err := fixmath.Mul(vol, sqrtT)
	if err != nil {
		return Quote{}, err
	}

	// d1 = (ln(S/K) + (r + v^2/2) T) / (v sqrt(T)), d2 = d1 - v sqrt(T)
	ratio, err := fixmath.Div(in.Spot, in.Strike)
	if err != nil {
		return Quote{}, err
	}
	lnSK, err := fixmath.Ln(ratio)
	if err != nil {
		return Quote{}, err
	}
	halfVar, err := fixmath.Mul(vol, vol)
	if err != nil {
		return Quote{}, err
	}
	drift, err := fixmath.Mul(rate+halfVar/2, tm)
	if err != nil {
		return Quote{}, err
	}
	num, err := fixmath.Add(lnSK, drift)
	if err != nil {
		return Quote{}, err
	}
	d1, err := fixmath.Div(num, volSqrtT)
	if err != nil {
		return Quote{}, err
	}
	d2, err := fixmath.Sub(d1, volSqrtT)
	if err != nil {
		return Quote{}, err
	}

	nd1, err := fixmath.NormCDF(d1)
	if err != nil {
		return Quote{}, err
	}
	nd2, err := fixmath.NormCDF(d2)
	if err != nil {
		return Quote{}, err
	}
	pdf1, err := fixmath.NormPDF(d1)
	if err != nil {
		return Quote{}, err
	}

	rt, err := fixmath.Mul(rate, tm)
	if err != nil {
		return Quote{}, err
	}
	discount, err := fixmath.Exp(-rt)
	if err != nil {
		return Quote{}, err
	}

	unitPremium, err := unitPremium(in, nd1, nd2, discount)
	if err != nil {
		return Quote{}, err
	}

	unit, err := unitGreeks(c, in, greekTerms{
		nd1: nd1, nd2: nd2, pdf1: pdf1,
		discount: discount, rate: rate,
		vol: vol, sqrtT: sqrtT, volSqrtT: volSqrtT,
	})
	if err != nil {
		return Quote{}, err
	}

	total, err := scaleGreeks(unit, in.Amount)
	if err != nil {
		return Quote{}, err
	}

	gross, err := fixmath.MulInt(unitPremium, in.Amount)
	if err != nil {
		return Quote{}, err
	}
	surcharge, err := fixmath.MulDiv(gross, c.LiquidityBps(), fixmath.BpsScale)
	if err != nil {
		return Quote{}, err
	}
	premium, err := fixmath.Add(gross, surcharge)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Premium:     premium,
		UnitPremium: unitPremium,
		Greeks:      total,
		UnitGreeks:  unit,
		IVBps:       ivBps,
		TimeYears:   tm,
	}, nil
}

// unitPremium computes the per-contract closed-form premium in smallest
// units, floored at zero after truncation.
func unitPremium(in Inputs, nd1, nd2, discount int64) (int64, error) {
	if in.Type == model.OptionCall {
		// C = S N(d1) - K e^{-rT} N(d2)
		sTerm, err := fixmath.MulDiv(in.Spot, nd1, fixmath.Scale)
		if err != nil {
			return 0, err
		}
		dn2, err := fixmath.Mul(discount, nd2)
		if err != nil {
			return 0, err
		}
		kTerm, err := fixmath.MulDiv(in.Strike, dn2, fixmath.Scale)
		if err != nil {
			return 0, err
		}
		p := sTerm - kTerm
		if p < 0 {
			p = 0
		}
		return p, nil
	}

	// P = K e^{-rT} N(-d2) - S N(-d1)
	dn2, err := fixmath.Mul(discount, fixmath.Scale-nd2)
	if err != nil {
		return 0, err
	}
	kTerm, err := fixmath.MulDiv(in.Strike, dn2, fixmath.Scale)
	if err != nil {
		return 0, err
	}
	sTerm, err := fixmath.MulDiv(in.Spot, fixmath.Scale-nd1, fixmath.Scale)
	if err != nil {
		return 0, err
	}
	p := kTerm - sTerm
	if p < 0 {
		p = 0
	}
	return p, nil
}

type greekTerms struct {
	nd1, nd2, pdf1       int64
	discount, rate       int64
	vol, sqrtT, volSqrtT int64
}

// unitGreeks computes the per-contract Greeks at GreekScale.
func unitGreeks(c *curve.Curve, in Inputs, t greekTerms) (model.Greeks, error) {
	var g model.Greeks

	// Delta: N(d1) for calls, N(d1)-1 for puts. Bounded in [-1, 1]*1e4.
	if in.Type == model.OptionCall {
		g.Delta = t.nd1 / scaleToGreek
	} else {
		g.Delta = -(fixmath.Scale - t.nd1) / scaleToGreek
	}

	// Gamma: phi(d1) / (S v sqrt(T)), per smallest price unit.
	denom, err := fixmath.MulDiv(in.Spot, t.volSqrtT, fixmath.Scale)
	if err != nil {
		return g, err
	}
	if denom > 0 {
		gamma, err := fixmath.Div(t.pdf1, denom)
		if err != nil {
			return g, err
		}
		g.Gamma = gamma / scaleToGreek
	}

	// Vega: S phi(d1) sqrt(T) / 100, smallest units per volatility point.
	pv, err := fixmath.Mul(t.pdf1, t.sqrtT)
	if err != nil {
		return g, err
	}
	vegaUnits, err := fixmath.MulDiv(in.Spot, pv, fixmath.Scale)
	if err != nil {
		return g, err
	}
	g.Vega, err = fixmath.MulInt(vegaUnits/100, fixmath.GreekScale)
	if err != nil {
		return g, err
	}

	// Theta: -S phi(d1) v / (2 sqrt(T)) -/+ r K e^{-rT} N(±d2),
	// smallest units of decay per year. Negative for a long position.
	pvv, err := fixmath.Mul(t.pdf1, t.vol)
	if err != nil {
		return g, err
	}
	decayNum, err := fixmath.MulDiv(in.Spot, pvv, fixmath.Scale)
	if err != nil {
		return g, err
	}
	decay, err := fixmath.Div(decayNum, 2*t.sqrtT)
	if err != nil {
		return g, err
	}

	rd, err := fixmath.Mul(t.rate, t.discount)
	if err != nil {
		return g, err
	}
	var carryFrac int64
	if in.Type == model.OptionCall {
		carryFrac, err = fixmath.Mul(rd, t.nd2)
	} else {
		carryFrac, err = fixmath.Mul(rd, fixmath.Scale-t.nd2)
	}
	if err != nil {
		return g, err
	}
	carry, err := fixmath.MulDiv(in.Strike, carryFrac, fixmath.Scale)
	if err != nil {
		return g, err
	}

	theta := -decay - carry
	if in.Type == model.OptionPut {
		theta = -decay + carry
	}
	theta, err = fixmath.MulDiv(theta, c.ThetaMultiplierBps(), fixmath.BpsScale)
	if err != nil {
		return g, err
	}
	g.Theta, err = fixmath.MulInt(theta, fixmath.GreekScale)
	if err != nil {
		return g, err
	}

	return g, nil
}

// scaleGreeks multiplies per-contract Greeks by the contract amount, with
// overflow checked on every component.
func scaleGreeks(unit model.Greeks, amount int64) (model.Greeks, error) {
	delta, err := fixmath.MulInt(unit.Delta, amount)
	if err != nil {
		return model.Greeks{}, err
	}
	gamma, err := fixmath.MulInt(unit.Gamma, amount)
	if err != nil {
		return model.Greeks{}, err
	}
	theta, err := fixmath.MulInt(unit.Theta, amount)
	if err != nil {
		return model.Greeks{}, err
	}
	vega, err := fixmath.MulInt(unit.Vega, amount)
	if err != nil {
		return model.Greeks{}, err
	}
	return model.Greeks{Delta: delta, Gamma: gamma, Theta: theta, Vega: vega}, nil
}
