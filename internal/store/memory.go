package store

import (
	"context"
	"sort"
	"sync"

	"github.com/optvault/vault-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	options map[uint64]*model.OptionRecord
	hedges  map[string]*model.HedgePosition
	snap    *Snapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		options: make(map[uint64]*model.OptionRecord),
		hedges:  make(map[string]*model.HedgePosition),
	}
}

func (s *MemoryStore) SaveOption(_ context.Context, opt *model.OptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *opt
	s.options[opt.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOption(_ context.Context, id uint64) (*model.OptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opt, ok := s.options[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *opt
	return &cp, nil
}

func (s *MemoryStore) ListOptions(_ context.Context) ([]model.OptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.OptionRecord, 0, len(s.options))
	for _, opt := range s.options {
		out = append(out, *opt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveHedge(_ context.Context, pos *model.HedgePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pos
	cp.OptionIDs = append([]uint64(nil), pos.OptionIDs...)
	s.hedges[pos.ID] = &cp
	return nil
}

func (s *MemoryStore) GetHedge(_ context.Context, id string) (*model.HedgePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.hedges[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pos
	cp.OptionIDs = append([]uint64(nil), pos.OptionIDs...)
	return &cp, nil
}

func (s *MemoryStore) ListHedges(_ context.Context) ([]model.HedgePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.HedgePosition, 0, len(s.hedges))
	for _, pos := range s.hedges {
		cp := *pos
		cp.OptionIDs = append([]uint64(nil), pos.OptionIDs...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *snap
	s.snap = &cp
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return nil, ErrNotFound
	}
	cp := *s.snap
	return &cp, nil
}
