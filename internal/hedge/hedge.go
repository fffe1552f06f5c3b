// Package hedge decides when and how the vault offsets its net delta
// exposure. The decision logic is pure: it reads risk parameters and the
// current aggregate delta, and emits an action the vault applies under its
// own lock.
//
// Sizes are signed delta units at fixmath.GreekScale and carry the sign of
// the book exposure they offset: a positive hedge size offsets positive net
// option delta, so the underlying instrument position is the opposite side.
// P&L is therefore computed against the book: the hedge gains when the
// underlying moves against the option exposure.
package hedge

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/optvault/vault-engine/internal/fixmath"
	"github.com/optvault/vault-engine/internal/model"
)

// DefaultRatioBps is the fraction of net delta offset per hedge when risk
// parameters leave the ratio unset.
const DefaultRatioBps = 8_000 // 80%

var (
	// ErrClosedPosition is returned when a mutation targets a hedge that
	// has already been closed.
	ErrClosedPosition = errors.New("hedge: position already closed")

	// ErrOverflow is returned when a sizing computation exceeds the
	// representable range.
	ErrOverflow = errors.New("hedge: arithmetic overflow")
)

// ShouldHedge reports whether the vault's net delta breaches the hedge
// threshold. The comparison is strict: exposure exactly at the threshold
// does not trigger.
func ShouldHedge(params model.RiskParams, netDelta int64) bool {
	if params.HedgeThreshold <= 0 {
		return false
	}
	abs := netDelta
	if abs < 0 {
		abs = -abs
	}
	return abs > params.HedgeThreshold
}

// Size computes the signed hedge size for the given net delta, truncated
// toward zero. A net delta of 6000 at the default 80% ratio yields 4800.
func Size(params model.RiskParams, netDelta int64) (int64, error) {
	ratio := params.HedgeRatioBps
	if ratio <= 0 {
		ratio = DefaultRatioBps
	}
	size, err := fixmath.MulDiv(netDelta, ratio, fixmath.BpsScale)
	if err != nil {
		return 0, ErrOverflow
	}
	return size, nil
}

// Action describes how the vault should adjust its hedge book: open a new
// position, or resize an existing one.
type Action struct {
	Open     bool
	Position *model.HedgePosition // new position when Open, target otherwise
	NewSize  int64                // target size after the action
}

// Plan decides between opening and resizing. When an open position for the
// underlying exists, it is resized to the target; otherwise a new spot
// hedge is opened at the current price.
func Plan(params model.RiskParams, netDelta int64, existing *model.HedgePosition, underlying string, spot, nowMs int64) (Action, error) {
	size, err := Size(params, netDelta)
	if err != nil {
		return Action{}, err
	}

	if existing != nil && !existing.Closed {
		return Action{Open: false, Position: existing, NewSize: size}, nil
	}

	now := time.UnixMilli(nowMs).UTC()
	pos := &model.HedgePosition{
		ID:           uuid.New().String(),
		Kind:         model.HedgeSpot,
		Underlying:   underlying,
		Size:         size,
		EntryPrice:   spot,
		CurrentPrice: spot,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return Action{Open: true, Position: pos, NewSize: size}, nil
}

// Resize sets a position to the target size, re-anchoring the entry price
// at the current mark. Realized P&L from the portion sold or bought back is
// accumulated before the entry moves.
func Resize(pos *model.HedgePosition, newSize, spot, nowMs int64) error {
	if pos.Closed {
		return ErrClosedPosition
	}
	realized, err := fixmath.MulDiv(-pos.Size, spot-pos.EntryPrice, fixmath.GreekScale)
	if err != nil {
		return ErrOverflow
	}
	pos.RealizedPnL += realized
	pos.Size = newSize
	pos.EntryPrice = spot
	pos.CurrentPrice = spot
	pos.UnrealizedPnL = 0
	pos.UpdatedAt = time.UnixMilli(nowMs).UTC()
	return nil
}

// MarkToMarket refreshes the position's mark price and unrealized P&L.
func MarkToMarket(pos *model.HedgePosition, spot int64) error {
	if pos.Closed {
		return ErrClosedPosition
	}
	pnl, err := fixmath.MulDiv(-pos.Size, spot-pos.EntryPrice, fixmath.GreekScale)
	if err != nil {
		return ErrOverflow
	}
	pos.CurrentPrice = spot
	pos.UnrealizedPnL = pnl
	return nil
}

// Close settles the position at the given mark, folding any unrealized
// P&L into realized and zeroing the size.
func Close(pos *model.HedgePosition, spot, nowMs int64) error {
	if pos.Closed {
		return ErrClosedPosition
	}
	if err := MarkToMarket(pos, spot); err != nil {
		return err
	}
	pos.RealizedPnL += pos.UnrealizedPnL
	pos.UnrealizedPnL = 0
	pos.Size = 0
	pos.Closed = true
	pos.UpdatedAt = time.UnixMilli(nowMs).UTC()
	return nil
}
