package fixmath

// Standard normal distribution at Scale. The CDF uses the Zelen & Severo
// polynomial approximation (Abramowitz & Stegun 26.2.17), whose absolute
// error is below 7.5e-8, well inside one GreekScale unit.

// Coefficients of the Zelen & Severo approximation, at Scale.
const (
	csP  int64 = 231_641_900
	csB1 int64 = 319_381_530
	csB2 int64 = -356_563_782
	csB3 int64 = 1_781_477_937
	csB4 int64 = -1_821_255_978
	csB5 int64 = 1_330_274_429
)

// cdfClamp is the |x| beyond which the CDF saturates to 0 or 1 at Scale.
const cdfClamp = 40 * Scale

// NormPDF returns the standard normal density at x (both at Scale).
func NormPDF(x int64) (int64, error) {
	x2, err := Mul(x, x)
	if err != nil {
		return 0, err
	}
	e, err := Exp(-x2 / 2)
	if err != nil {
		return 0, err
	}
	return Div(e, Sqrt2Pi)
}

// NormCDF returns the standard normal cumulative distribution at x
// (both at Scale). The result is clamped to [0, Scale].
func NormCDF(x int64) (int64, error) {
	if x >= cdfClamp {
		return Scale, nil
	}
	if x <= -cdfClamp {
		return 0, nil
	}
	if x < 0 {
		c, err := NormCDF(-x)
		if err != nil {
			return 0, err
		}
		return Scale - c, nil
	}

	pdf, err := NormPDF(x)
	if err != nil {
		return 0, err
	}

	px, err := Mul(csP, x)
	if err != nil {
		return 0, err
	}
	t, err := Div(Scale, Scale+px)
	if err != nil {
		return 0, err
	}

	// Horner evaluation of b1*t + b2*t^2 + ... + b5*t^5.
	poly := csB5
	for _, b := range []int64{csB4, csB3, csB2, csB1} {
		poly, err = Mul(poly, t)
		if err != nil {
			return 0, err
		}
		poly += b
	}
	poly, err = Mul(poly, t)
	if err != nil {
		return 0, err
	}

	tail, err := Mul(pdf, poly)
	if err != nil {
		return 0, err
	}

	c := Scale - tail
	if c < 0 {
		c = 0
	}
	if c > Scale {
		c = Scale
	}
	return c, nil
}
