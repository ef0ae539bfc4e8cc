// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/rovshanmuradov/launch-guard/internal/domain"
)

// StatusExtra carries the data written together with a terminal status.
type StatusExtra struct {
	Evidence      *domain.TradeEvent
	ExpiredReason domain.ExpiredReason
}

// MonitorStore is the durable projection of launch monitors.
type MonitorStore interface {
	// Upsert writes the whole record, replacing an existing one for the token
	// unless that one triggered, in which case it returns ErrTriggered.
	Upsert(ctx context.Context, m *domain.Monitor) error

	// UpdateStatus moves a monitoring record to a terminal status. It returns
	// ErrTerminal when the record already left monitoring and ErrNotFound when
	// there is no record.
	UpdateStatus(ctx context.Context, tokenMint string, status domain.Status, extra StatusExtra) error

	// UpdateCursor stores the newest fully processed signature.
	UpdateCursor(ctx context.Context, tokenMint, cursor string) error

	// Get returns ErrNotFound for an unknown token.
	Get(ctx context.Context, tokenMint string) (*domain.Monitor, error)

	// ListActive returns every record still in monitoring.
	ListActive(ctx context.Context) ([]*domain.Monitor, error)
}
