package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

// MetaStore implements domain.MetaStore in memory.
type MetaStore struct {
	mu    sync.RWMutex
	byID  map[string]domain.MarketMeta
	byKey map[string]string
}

// NewMetaStore returns an empty MetaStore.
func NewMetaStore() *MetaStore {
	return &MetaStore{
		byID:  make(map[string]domain.MarketMeta),
		byKey: make(map[string]string),
	}
}

// Upsert stores meta. A ledger key id already bound to another market is
// rejected.
func (s *MetaStore) Upsert(_ context.Context, meta domain.MarketMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.byKey[meta.LedgerKeyID]; ok && owner != meta.MarketID {
		return fmt.Errorf("memory: ledger key %s: %w", meta.LedgerKeyID, domain.ErrAlreadyExists)
	}
	if prev, ok := s.byID[meta.MarketID]; ok {
		delete(s.byKey, prev.LedgerKeyID)
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = prev.CreatedAt
		}
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	s.byID[meta.MarketID] = meta
	s.byKey[meta.LedgerKeyID] = meta.MarketID
	return nil
}

// Resolve finds meta by market id, then by ledger key id.
func (s *MetaStore) Resolve(_ context.Context, ref string) (domain.MarketMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.byID[ref]; ok {
		return m, nil
	}
	if id, ok := s.byKey[ref]; ok {
		return s.byID[id], nil
	}
	return domain.MarketMeta{}, domain.ErrNoMeta
}
