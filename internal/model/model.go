// Package model defines the core domain types shared across the vault engine.
// All Greeks are int64 fixed-point scaled by 10,000; prices, strikes, and
// premiums are int64 in the asset's smallest unit; percentage parameters are
// basis points. No float64 for money or risk anywhere.
package model

import "time"

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Valid reports whether the option type is one of the supported kinds.
func (t OptionType) Valid() bool {
	return t == OptionCall || t == OptionPut
}

// HedgeKind is the instrument used to offset aggregate exposure.
type HedgeKind string

const (
	HedgeSpot          HedgeKind = "SPOT"
	HedgePerpetual     HedgeKind = "PERPETUAL"
	HedgeCrossProtocol HedgeKind = "CROSS_PROTOCOL"
)

// Greeks holds the signed sensitivities of a position, each scaled by 10,000.
type Greeks struct {
	Delta int64 `json:"delta" db:"delta"`
	Gamma int64 `json:"gamma" db:"gamma"`
	Theta int64 `json:"theta" db:"theta"`
	Vega  int64 `json:"vega" db:"vega"`
}

// Add returns the component-wise sum g + o.
func (g Greeks) Add(o Greeks) Greeks {
	return Greeks{
		Delta: g.Delta + o.Delta,
		Gamma: g.Gamma + o.Gamma,
		Theta: g.Theta + o.Theta,
		Vega:  g.Vega + o.Vega,
	}
}

// Sub returns the component-wise difference g - o.
func (g Greeks) Sub(o Greeks) Greeks {
	return Greeks{
		Delta: g.Delta - o.Delta,
		Gamma: g.Gamma - o.Gamma,
		Theta: g.Theta - o.Theta,
		Vega:  g.Vega - o.Vega,
	}
}

// IsZero reports whether every component is zero.
func (g Greeks) IsZero() bool {
	return g == Greeks{}
}

// OptionRecord is the vault's ledger entry for one issued option.
// Created at issuance; HedgeID is written at most once when a hedge is
// opened or resized for it; Exercised/Settled move false→true only, by the
// settlement collaborator.
type OptionRecord struct {
	ID         uint64     `json:"id" db:"id"`
	Type       OptionType `json:"type" db:"type"`
	Strike     int64      `json:"strike" db:"strike"`   // smallest units
	Expiry     int64      `json:"expiry" db:"expiry"`   // unix ms
	Amount     int64      `json:"amount" db:"amount"`   // contract count
	Premium    int64      `json:"premium" db:"premium"` // net premium collected
	Fee        int64      `json:"fee" db:"fee"`         // protocol fee retained
	Greeks     Greeks     `json:"greeks"`               // at contract size, at issuance
	UnitGreeks Greeks     `json:"unit_greeks"`          // per single contract
	HedgeID    string     `json:"hedge_id,omitempty" db:"hedge_id"`
	Buyer      string     `json:"buyer" db:"buyer"`
	Exercised  bool       `json:"exercised" db:"exercised"`
	Settled    bool       `json:"settled" db:"settled"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Active reports whether the option still contributes to aggregate exposure.
func (o *OptionRecord) Active() bool {
	return !o.Settled
}

// HedgePosition is a virtual offsetting position opened against aggregate
// delta exposure. It references its options by ID only, never by pointer,
// so settlement of either side cannot dangle the other.
type HedgePosition struct {
	ID            string    `json:"id" db:"id"`
	Kind          HedgeKind `json:"kind" db:"kind"`
	Underlying    string    `json:"underlying" db:"underlying"`
	Size          int64     `json:"size" db:"size"` // offset delta, 1e4 units, signed like the book exposure
	EntryPrice    int64     `json:"entry_price" db:"entry_price"`
	CurrentPrice  int64     `json:"current_price" db:"current_price"`
	UnrealizedPnL int64     `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL   int64     `json:"realized_pnl" db:"realized_pnl"`
	OptionIDs     []uint64  `json:"option_ids"` // append-only while open
	Closed        bool      `json:"closed" db:"closed"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// RiskParams are the vault's risk limits. Sizes and exposures are in the
// same units as the quantities they cap; HedgeRatioBps is basis points.
type RiskParams struct {
	MaxSingleOptionSize int64 `json:"max_single_option_size" yaml:"max_single_option_size"`
	MaxTotalExposure    int64 `json:"max_total_exposure" yaml:"max_total_exposure"`
	HedgeThreshold      int64 `json:"hedge_threshold" yaml:"hedge_threshold"`
	HedgeRatioBps       int64 `json:"hedge_ratio_bps" yaml:"hedge_ratio_bps"`
}

// FeeParams are the vault's fee parameters in basis points.
type FeeParams struct {
	FeeBps int64 `json:"fee_bps" yaml:"fee_bps"`
}

// VaultMetrics is a read-only snapshot of the vault's aggregate state.
type VaultMetrics struct {
	Underlying    string     `json:"underlying"`
	Reserve       int64      `json:"reserve"`
	FeeReserve    int64      `json:"fee_reserve"`
	ActiveOptions int        `json:"active_options"`
	TotalOptions  int        `json:"total_options"`
	OpenHedges    int        `json:"open_hedges"`
	Aggregate     Greeks     `json:"aggregate"`
	Paused        bool       `json:"paused"`
	Risk          RiskParams `json:"risk"`
	Fees          FeeParams  `json:"fees"`
}
