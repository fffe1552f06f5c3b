// Package store defines the persistence interface for the vault engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/optvault/vault-engine/internal/model"
)

// ErrNotFound is returned by Get operations when no row matches.
var ErrNotFound = errors.New("store: not found")

// Snapshot is the vault's persisted scalar state. Options and hedges are
// stored row-per-record; the snapshot carries everything else needed to
// rebuild the vault after a restart.
type Snapshot struct {
	Underlying   string
	Reserve      int64
	FeeReserve   int64
	NextOptionID uint64
	Aggregate    model.Greeks
	Risk         model.RiskParams
	Fees         model.FeeParams
	Paused       bool
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The vault treats persistence
// as write-through: in-memory state commits first, then the store.
type Store interface {
	// --- Option records ---

	// SaveOption inserts or replaces an option record.
	SaveOption(ctx context.Context, opt *model.OptionRecord) error

	// GetOption retrieves an option by its counter ID.
	GetOption(ctx context.Context, id uint64) (*model.OptionRecord, error)

	// ListOptions returns all option records, settled included.
	ListOptions(ctx context.Context) ([]model.OptionRecord, error)

	// --- Hedge positions ---

	// SaveHedge inserts or replaces a hedge position.
	SaveHedge(ctx context.Context, pos *model.HedgePosition) error

	// GetHedge retrieves a hedge position by ID.
	GetHedge(ctx context.Context, id string) (*model.HedgePosition, error)

	// ListHedges returns all hedge positions, closed included.
	ListHedges(ctx context.Context) ([]model.HedgePosition, error)

	// --- Vault snapshot ---

	// SaveSnapshot persists the vault's scalar state.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// GetSnapshot loads the vault's scalar state, or ErrNotFound when the
	// vault has never been persisted.
	GetSnapshot(ctx context.Context) (*Snapshot, error)
}
