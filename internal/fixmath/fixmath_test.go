package fixmath

import (
	"math"
	"testing"
)

// within asserts |got-want| <= tol.
func within(t *testing.T, name string, got, want, tol int64) {
	t.Helper()
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > tol {
		t.Errorf("%s: got %d, want %d (±%d)", name, got, want, tol)
	}
}

// --- MulDiv / Mul / Div ---

func TestMulDiv_Exact(t *testing.T) {
	got, err := MulDiv(6, 7, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 14 {
		t.Errorf("expected 14, got %d", got)
	}
}

func TestMulDiv_RoundsTowardZero(t *testing.T) {
	tests := []struct {
		a, b, denom, want int64
	}{
		{7, 1, 2, 3},
		{-7, 1, 2, -3},
		{7, -1, 2, -3},
		{-7, -1, 2, 3},
		{7, 1, -2, -3},
	}
	for _, tt := range tests {
		got, err := MulDiv(tt.a, tt.b, tt.denom)
		if err != nil {
			t.Fatalf("MulDiv(%d,%d,%d): unexpected error: %v", tt.a, tt.b, tt.denom, err)
		}
		if got != tt.want {
			t.Errorf("MulDiv(%d,%d,%d) = %d, want %d", tt.a, tt.b, tt.denom, got, tt.want)
		}
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// a*b overflows int64 but the quotient fits.
	a := int64(math.MaxInt64 / 3)
	got, err := MulDiv(a, 6, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != a*2 {
		t.Errorf("expected %d, got %d", a*2, got)
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	if _, err := MulDiv(math.MaxInt64, math.MaxInt64, 1); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv_DivideByZero(t *testing.T) {
	if _, err := MulDiv(1, 1, 0); err != ErrDivideByZero {
		t.Errorf("expected ErrDivideByZero, got %v", err)
	}
}

func TestMul_Identity(t *testing.T) {
	got, err := Mul(123_456_789, Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 123_456_789 {
		t.Errorf("x * 1.0 should be x, got %d", got)
	}
}

func TestDiv_Identity(t *testing.T) {
	got, err := Div(123_456_789, Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 123_456_789 {
		t.Errorf("x / 1.0 should be x, got %d", got)
	}
}

// --- Checked add/sub/mul ---

func TestAdd_Overflow(t *testing.T) {
	if _, err := Add(math.MaxInt64, 1); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if _, err := Add(math.MinInt64, -1); err != ErrOverflow {
		t.Errorf("expected ErrOverflow on negative overflow, got %v", err)
	}
	if got, err := Add(40, 2); err != nil || got != 42 {
		t.Errorf("Add(40,2) = %d, %v", got, err)
	}
}

func TestSub_Overflow(t *testing.T) {
	if _, err := Sub(math.MinInt64, 1); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if got, err := Sub(40, -2); err != nil || got != 42 {
		t.Errorf("Sub(40,-2) = %d, %v", got, err)
	}
}

func TestMulInt_Overflow(t *testing.T) {
	if _, err := MulInt(math.MaxInt64/2, 3); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if got, err := MulInt(-6, 7); err != nil || got != -42 {
		t.Errorf("MulInt(-6,7) = %d, %v", got, err)
	}
	if got, err := MulInt(0, math.MaxInt64); err != nil || got != 0 {
		t.Errorf("MulInt(0,max) = %d, %v", got, err)
	}
}

// --- Sqrt ---

func TestSqrt_Exact(t *testing.T) {
	tests := []struct{ x, want int64 }{
		{0, 0},
		{Scale, Scale},            // sqrt(1) = 1
		{4 * Scale, 2 * Scale},    // sqrt(4) = 2
		{9 * Scale, 3 * Scale},    // sqrt(9) = 3
		{Scale / 4, Scale / 2},    // sqrt(0.25) = 0.5
		{Scale / 100, Scale / 10}, // sqrt(0.01) = 0.1
		{100 * Scale, 10 * Scale}, // sqrt(100) = 10
		{100_000_000_000_000_000, 10_000_000_000_000}, // sqrt(1e8) = 1e4
	}
	for _, tt := range tests {
		got, err := Sqrt(tt.x)
		if err != nil {
			t.Fatalf("Sqrt(%d): unexpected error: %v", tt.x, err)
		}
		within(t, "Sqrt", got, tt.want, 1)
	}
}

func TestSqrt_Two(t *testing.T) {
	got, err := Sqrt(2 * Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "Sqrt(2)", got, 1_414_213_562, 1)
}

func TestSqrt_Negative(t *testing.T) {
	if _, err := Sqrt(-1); err != ErrNegativeRoot {
		t.Errorf("expected ErrNegativeRoot, got %v", err)
	}
}

func TestSqrt_Monotone(t *testing.T) {
	prev := int64(-1)
	for x := int64(0); x <= 10*Scale; x += Scale / 7 {
		got, err := Sqrt(x)
		if err != nil {
			t.Fatalf("Sqrt(%d): %v", x, err)
		}
		if got < prev {
			t.Fatalf("Sqrt not monotone at x=%d: %d < %d", x, got, prev)
		}
		prev = got
	}
}

func TestSqrt_LargeDomain(t *testing.T) {
	// Monotone across the boundary where x*Scale stops fitting in 64 bits.
	boundary := int64(math.MaxUint64 / uint64(Scale))
	prev := int64(-1)
	for x := boundary - 5; x <= boundary+5; x++ {
		got, err := Sqrt(x)
		if err != nil {
			t.Fatalf("Sqrt(%d): %v", x, err)
		}
		if got < prev {
			t.Fatalf("Sqrt not monotone at x=%d: %d < %d", x, got, prev)
		}
		prev = got
	}

	got, err := Sqrt(math.MaxInt64)
	if err != nil {
		t.Fatalf("Sqrt(MaxInt64): %v", err)
	}
	// floor(sqrt(MaxInt64 * Scale))
	within(t, "Sqrt(MaxInt64)", got, 96_038_388_349_944, 1)
}

// --- Ln ---

func TestLn_One(t *testing.T) {
	got, err := Ln(Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("ln(1) should be 0, got %d", got)
	}
}

func TestLn_Two(t *testing.T) {
	got, err := Ln(2 * Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "Ln(2)", got, Ln2, 2)
}

func TestLn_Reciprocal(t *testing.T) {
	// ln(1/x) = -ln(x)
	lnHalf, err := Ln(Scale / 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "Ln(0.5)", lnHalf, -Ln2, 2)
}

func TestLn_KnownValue(t *testing.T) {
	// ln(10) = 2.302585092994...
	got, err := Ln(10 * Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "Ln(10)", got, 2_302_585_092, 10)
}

func TestLn_Domain(t *testing.T) {
	if _, err := Ln(0); err != ErrLogDomain {
		t.Errorf("expected ErrLogDomain for 0, got %v", err)
	}
	if _, err := Ln(-Scale); err != ErrLogDomain {
		t.Errorf("expected ErrLogDomain for negative, got %v", err)
	}
}

// --- Exp ---

func TestExp_Zero(t *testing.T) {
	got, err := Exp(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Scale {
		t.Errorf("e^0 should be 1, got %d", got)
	}
}

func TestExp_One(t *testing.T) {
	// e = 2.718281828...
	got, err := Exp(Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "Exp(1)", got, 2_718_281_828, 10)
}

func TestExp_NegativeOne(t *testing.T) {
	// 1/e = 0.367879441...
	got, err := Exp(-Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "Exp(-1)", got, 367_879_441, 10)
}

func TestExp_LnRoundTrip(t *testing.T) {
	for _, x := range []int64{Scale / 3, Scale, 3 * Scale, 7 * Scale} {
		lx, err := Ln(x)
		if err != nil {
			t.Fatalf("Ln(%d): %v", x, err)
		}
		back, err := Exp(lx)
		if err != nil {
			t.Fatalf("Exp(Ln(%d)): %v", x, err)
		}
		within(t, "Exp∘Ln", back, x, x/1_000_000+5)
	}
}

func TestExp_Underflow(t *testing.T) {
	got, err := Exp(-30 * Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("deep negative exp should underflow to 0, got %d", got)
	}
}

func TestExp_Overflow(t *testing.T) {
	if _, err := Exp(23 * Scale); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

// --- Normal distribution ---

func TestNormCDF_AtZero(t *testing.T) {
	got, err := NormCDF(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "NormCDF(0)", got, Scale/2, 100)
}

func TestNormCDF_Symmetry(t *testing.T) {
	for _, x := range []int64{Scale / 2, Scale, 2 * Scale, 3 * Scale} {
		up, err := NormCDF(x)
		if err != nil {
			t.Fatalf("NormCDF(%d): %v", x, err)
		}
		down, err := NormCDF(-x)
		if err != nil {
			t.Fatalf("NormCDF(-%d): %v", x, err)
		}
		within(t, "CDF symmetry", up+down, Scale, 200)
	}
}

func TestNormCDF_KnownValues(t *testing.T) {
	// N(1) = 0.841344746..., N(2) = 0.977249868...
	got, err := NormCDF(Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "NormCDF(1)", got, 841_344_746, 200)

	got, err = NormCDF(2 * Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "NormCDF(2)", got, 977_249_868, 200)
}

func TestNormCDF_MonotoneAndBounded(t *testing.T) {
	prev := int64(-1)
	for x := -6 * Scale; x <= 6*Scale; x += Scale / 4 {
		got, err := NormCDF(x)
		if err != nil {
			t.Fatalf("NormCDF(%d): %v", x, err)
		}
		if got < 0 || got > Scale {
			t.Fatalf("NormCDF(%d) out of [0,1]: %d", x, got)
		}
		if got < prev {
			t.Fatalf("NormCDF not monotone at x=%d: %d < %d", x, got, prev)
		}
		prev = got
	}
}

func TestNormCDF_Saturation(t *testing.T) {
	got, err := NormCDF(50 * Scale)
	if err != nil || got != Scale {
		t.Errorf("far right tail should saturate to 1: %d, %v", got, err)
	}
	got, err = NormCDF(-50 * Scale)
	if err != nil || got != 0 {
		t.Errorf("far left tail should saturate to 0: %d, %v", got, err)
	}
}

func TestNormPDF_PeakAndSymmetry(t *testing.T) {
	// phi(0) = 1/sqrt(2*pi) = 0.398942280...
	peak, err := NormPDF(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "NormPDF(0)", peak, 398_942_280, 100)

	left, err := NormPDF(-Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	right, err := NormPDF(Scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, "PDF symmetry", left, right, 2)
	if right >= peak {
		t.Errorf("density should peak at 0: phi(1)=%d phi(0)=%d", right, peak)
	}
}

// --- Determinism ---

func TestDeterminism(t *testing.T) {
	// Identical inputs must produce identical outputs on repeated runs.
	for i := 0; i < 3; i++ {
		a, _ := Ln(7 * Scale / 3)
		b, _ := Exp(-a / 2)
		c, _ := NormCDF(b)
		first, _ := Mul(b, c)
		a2, _ := Ln(7 * Scale / 3)
		b2, _ := Exp(-a2 / 2)
		c2, _ := NormCDF(b2)
		second, _ := Mul(b2, c2)
		if first != second {
			t.Fatalf("non-deterministic result: %d != %d", first, second)
		}
	}
}
