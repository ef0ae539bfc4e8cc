package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rovshanmuradov/launch-guard/internal/domain"
	"github.com/rovshanmuradov/launch-guard/internal/storage"
)

// MonitorStore is an in-memory implementation of storage.MonitorStore.
type MonitorStore struct {
	mu       sync.RWMutex
	monitors map[string]*domain.Monitor
	now      func() time.Time
}

// NewMonitorStore creates a new in-memory monitor store.
func NewMonitorStore() *MonitorStore {
	return &MonitorStore{
		monitors: make(map[string]*domain.Monitor),
		now:      time.Now,
	}
}

func (s *MonitorStore) Upsert(_ context.Context, m *domain.Monitor) error {
	if m == nil || m.TokenMint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.monitors[m.TokenMint]; ok && old.Status == domain.StatusTriggered {
		return storage.ErrTriggered
	}
	c := m.Clone()
	c.UpdatedAt = s.now().UTC()
	s.monitors[m.TokenMint] = c
	return nil
}

func (s *MonitorStore) UpdateStatus(_ context.Context, tokenMint string, status domain.Status, extra storage.StatusExtra) error {
	if !status.Terminal() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[tokenMint]
	if !ok {
		return storage.ErrNotFound
	}
	if m.Status != domain.StatusMonitoring {
		return storage.ErrTerminal
	}

	m.Status = status
	m.ExpiredReason = extra.ExpiredReason
	if extra.Evidence != nil {
		ev := *extra.Evidence
		m.Evidence = &ev
	}
	m.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MonitorStore) UpdateCursor(_ context.Context, tokenMint, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[tokenMint]
	if !ok {
		return storage.ErrNotFound
	}
	m.Cursor = cursor
	m.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MonitorStore) Get(_ context.Context, tokenMint string) (*domain.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.monitors[tokenMint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

// ListActive returns monitoring records ordered by creation time.
func (s *MonitorStore) ListActive(_ context.Context) ([]*domain.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Monitor
	for _, m := range s.monitors {
		if m.Status == domain.StatusMonitoring {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ storage.MonitorStore = (*MonitorStore)(nil)
