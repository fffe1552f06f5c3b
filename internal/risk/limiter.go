// Package risk implements notional concentration limits across option
// expiries.
//
// Options expiring at the same time carry correlated pin and gamma risk:
// a vault that writes its whole book against a single Friday expiry can
// be wiped out by one adverse settlement print. This package groups
// expiries into time windows and enforces both a per-expiry cap and an
// aggregate cap across each window.
package risk

import "errors"

var (
	// ErrPerExpiryLimitExceeded is returned when a buy would push the
	// notional written against a single expiry beyond the per-expiry maximum.
	ErrPerExpiryLimitExceeded = errors.New("risk: per-expiry notional limit exceeded")

	// ErrWindowLimitExceeded is returned when a buy would push the
	// aggregate notional across expiries in the same time window beyond
	// the window maximum.
	ErrWindowLimitExceeded = errors.New("risk: expiry window notional limit exceeded")
)

// ConcentrationLimiter enforces notional limits with expiry-window
// awareness.
//
// Correlation detection uses time bucketing: two expiries whose
// timestamps fall into the same WindowMs-wide bucket are considered
// correlated. WindowMs controls the correlation radius:
//
//	WindowMs=86_400_000  → same UTC day (daily pin risk)
//	WindowMs=604_800_000 → same week (weekly settlement cluster)
type ConcentrationLimiter struct {
	// MaxPerExpiry is the maximum notional written against any single
	// expiry timestamp, in underlying units.
	MaxPerExpiry int64

	// MaxWindow is the maximum aggregate notional across all expiries
	// that fall into the same time window (correlated group).
	MaxWindow int64

	// WindowMs is the width of a correlation window in milliseconds.
	WindowMs int64
}

// NewConcentrationLimiter creates a limiter with the given per-expiry
// and windowed notional limits.
func NewConcentrationLimiter(maxPerExpiry, maxWindow, windowMs int64) *ConcentrationLimiter {
	if windowMs < 1 {
		windowMs = 1
	}
	return &ConcentrationLimiter{
		MaxPerExpiry: maxPerExpiry,
		MaxWindow:    maxWindow,
		WindowMs:     windowMs,
	}
}

// Check validates whether writing more notional respects concentration
// limits.
//
// Parameters:
//   - expiryMs: expiry timestamp of the option being written
//   - amountDelta: change in notional against that expiry
//   - existing: map of expiry timestamp → active notional already written
//
// Returns nil if the buy is within limits, or an error describing the
// violation.
func (l *ConcentrationLimiter) Check(expiryMs, amountDelta int64, existing map[int64]int64) error {
	// 1. Per-expiry limit.
	newAtExpiry := existing[expiryMs] + amountDelta
	if newAtExpiry > l.MaxPerExpiry {
		return ErrPerExpiryLimitExceeded
	}

	// 2. Windowed exposure: sum notional across expiries in the same bucket.
	targetBucket := expiryBucket(expiryMs, l.WindowMs)
	totalInWindow := newAtExpiry

	for expiry, amount := range existing {
		if expiry == expiryMs {
			continue // already counted via newAtExpiry above
		}
		if expiryBucket(expiry, l.WindowMs) == targetBucket {
			totalInWindow += amount
		}
	}

	if totalInWindow > l.MaxWindow {
		return ErrWindowLimitExceeded
	}

	return nil
}

// expiryBucket maps an expiry timestamp to its correlation window index.
func expiryBucket(expiryMs, windowMs int64) int64 {
	return expiryMs / windowMs
}
