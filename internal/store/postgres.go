package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/optvault/vault-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values and Greeks are BIGINT columns in the engine's fixed
// point scales, so storage round-trips are exact by construction.
// Timestamps are TIMESTAMPTZ and travel as time.Time.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveOption(ctx context.Context, o *model.OptionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO options (id, option_type, strike, expiry_ms, amount, premium, fee,
		                      delta, gamma, theta, vega,
		                      unit_delta, unit_gamma, unit_theta, unit_vega,
		                      hedge_id, buyer, exercised, settled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		 ON CONFLICT (id) DO UPDATE SET
		     hedge_id = EXCLUDED.hedge_id,
		     exercised = EXCLUDED.exercised,
		     settled = EXCLUDED.settled`,
		o.ID, o.Type, o.Strike, o.Expiry, o.Amount, o.Premium, o.Fee,
		o.Greeks.Delta, o.Greeks.Gamma, o.Greeks.Theta, o.Greeks.Vega,
		o.UnitGreeks.Delta, o.UnitGreeks.Gamma, o.UnitGreeks.Theta, o.UnitGreeks.Vega,
		o.HedgeID, o.Buyer, o.Exercised, o.Settled, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetOption(ctx context.Context, id uint64) (*model.OptionRecord, error) {
	o, err := scanOption(s.pool.QueryRow(ctx, optionSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get option %d: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) ListOptions(ctx context.Context) ([]model.OptionRecord, error) {
	rows, err := s.pool.Query(ctx, optionSelect+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OptionRecord
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveHedge(ctx context.Context, h *model.HedgePosition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO hedges (id, kind, underlying, size, entry_price, current_price,
		                     unrealized_pnl, realized_pnl, option_ids, closed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		     size = EXCLUDED.size,
		     entry_price = EXCLUDED.entry_price,
		     current_price = EXCLUDED.current_price,
		     unrealized_pnl = EXCLUDED.unrealized_pnl,
		     realized_pnl = EXCLUDED.realized_pnl,
		     option_ids = EXCLUDED.option_ids,
		     closed = EXCLUDED.closed,
		     updated_at = EXCLUDED.updated_at`,
		h.ID, h.Kind, h.Underlying, h.Size, h.EntryPrice, h.CurrentPrice,
		h.UnrealizedPnL, h.RealizedPnL, int64Slice(h.OptionIDs), h.Closed, h.CreatedAt, h.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetHedge(ctx context.Context, id string) (*model.HedgePosition, error) {
	h, err := scanHedge(s.pool.QueryRow(ctx, hedgeSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get hedge %s: %w", id, err)
	}
	return h, nil
}

func (s *PostgresStore) ListHedges(ctx context.Context) ([]model.HedgePosition, error) {
	rows, err := s.pool.Query(ctx, hedgeSelect+` ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HedgePosition
	for rows.Next() {
		h, err := scanHedge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_snapshot (underlying, reserve, fee_reserve, next_option_id,
		                             agg_delta, agg_gamma, agg_theta, agg_vega,
		                             max_single_option_size, max_total_exposure,
		                             hedge_threshold, hedge_ratio_bps, fee_bps, paused)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (underlying) DO UPDATE SET
		     reserve = EXCLUDED.reserve,
		     fee_reserve = EXCLUDED.fee_reserve,
		     next_option_id = EXCLUDED.next_option_id,
		     agg_delta = EXCLUDED.agg_delta,
		     agg_gamma = EXCLUDED.agg_gamma,
		     agg_theta = EXCLUDED.agg_theta,
		     agg_vega = EXCLUDED.agg_vega,
		     max_single_option_size = EXCLUDED.max_single_option_size,
		     max_total_exposure = EXCLUDED.max_total_exposure,
		     hedge_threshold = EXCLUDED.hedge_threshold,
		     hedge_ratio_bps = EXCLUDED.hedge_ratio_bps,
		     fee_bps = EXCLUDED.fee_bps,
		     paused = EXCLUDED.paused`,
		snap.Underlying, snap.Reserve, snap.FeeReserve, int64(snap.NextOptionID),
		snap.Aggregate.Delta, snap.Aggregate.Gamma, snap.Aggregate.Theta, snap.Aggregate.Vega,
		snap.Risk.MaxSingleOptionSize, snap.Risk.MaxTotalExposure,
		snap.Risk.HedgeThreshold, snap.Risk.HedgeRatioBps, snap.Fees.FeeBps, snap.Paused,
	)
	return err
}

func (s *PostgresStore) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	var nextID int64
	err := s.pool.QueryRow(ctx,
		`SELECT underlying, reserve, fee_reserve, next_option_id,
		        agg_delta, agg_gamma, agg_theta, agg_vega,
		        max_single_option_size, max_total_exposure,
		        hedge_threshold, hedge_ratio_bps, fee_bps, paused
		 FROM vault_snapshot LIMIT 1`).
		Scan(&snap.Underlying, &snap.Reserve, &snap.FeeReserve, &nextID,
			&snap.Aggregate.Delta, &snap.Aggregate.Gamma, &snap.Aggregate.Theta, &snap.Aggregate.Vega,
			&snap.Risk.MaxSingleOptionSize, &snap.Risk.MaxTotalExposure,
			&snap.Risk.HedgeThreshold, &snap.Risk.HedgeRatioBps, &snap.Fees.FeeBps, &snap.Paused)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	snap.NextOptionID = uint64(nextID)
	return &snap, nil
}

const optionSelect = `SELECT id, option_type, strike, expiry_ms, amount, premium, fee,
       delta, gamma, theta, vega,
       unit_delta, unit_gamma, unit_theta, unit_vega,
       hedge_id, buyer, exercised, settled, created_at
 FROM options`

const hedgeSelect = `SELECT id, kind, underlying, size, entry_price, current_price,
       unrealized_pnl, realized_pnl, option_ids, closed, created_at, updated_at
 FROM hedges`

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanOption(row pgxRow) (*model.OptionRecord, error) {
	var o model.OptionRecord
	if err := row.Scan(&o.ID, &o.Type, &o.Strike, &o.Expiry, &o.Amount, &o.Premium, &o.Fee,
		&o.Greeks.Delta, &o.Greeks.Gamma, &o.Greeks.Theta, &o.Greeks.Vega,
		&o.UnitGreeks.Delta, &o.UnitGreeks.Gamma, &o.UnitGreeks.Theta, &o.UnitGreeks.Vega,
		&o.HedgeID, &o.Buyer, &o.Exercised, &o.Settled, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanHedge(row pgxRow) (*model.HedgePosition, error) {
	var h model.HedgePosition
	var ids []int64
	if err := row.Scan(&h.ID, &h.Kind, &h.Underlying, &h.Size, &h.EntryPrice, &h.CurrentPrice,
		&h.UnrealizedPnL, &h.RealizedPnL, &ids, &h.Closed, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.OptionIDs = make([]uint64, len(ids))
	for i, id := range ids {
		h.OptionIDs[i] = uint64(id)
	}
	return &h, nil
}

// int64Slice converts option counter IDs for the BIGINT[] column; pgx has
// no native uint64 array mapping.
func int64Slice(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
