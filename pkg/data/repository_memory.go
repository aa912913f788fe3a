package data

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps snapshots in process. It backs runs without a
// configured database and serves as the repository in tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// Ensure MemoryRepository implements the Repository interface
var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{snapshots: make(map[string]*Snapshot)}
}

func (m *MemoryRepository) SaveSnapshot(ctx context.Context, s *Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.snapshots[s.ID]; exists {
		return ErrDuplicate
	}
	cp := *s
	m.snapshots[s.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryRepository) LatestSnapshot(ctx context.Context, quest string) (*Snapshot, error) {
	list, err := m.ListSnapshots(ctx, quest, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (m *MemoryRepository) ListSnapshots(ctx context.Context, quest string, limit int) ([]*Snapshot, error) {
	if limit < 0 {
		return nil, ErrInvalidFilter
	}

	m.mu.RLock()
	var out []*Snapshot
	for _, s := range m.snapshots {
		if s.Quest == quest {
			cp := *s
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.After(out[j].CompletedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) DeleteSnapshot(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[id]; !ok {
		return ErrNotFound
	}
	delete(m.snapshots, id)
	return nil
}

// Len returns the number of stored snapshots
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
