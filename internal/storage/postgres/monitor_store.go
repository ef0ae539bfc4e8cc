package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/launch-guard/internal/domain"
	"github.com/rovshanmuradov/launch-guard/internal/storage"
)

// MonitorStore is a PostgreSQL implementation of storage.MonitorStore.
// Status changes are compare-and-set on status = 'monitoring', so a record
// that reached a terminal status is never rewritten by a late tick.
type MonitorStore struct {
	pool *Pool
}

// NewMonitorStore creates a new PostgreSQL monitor store.
func NewMonitorStore(pool *Pool) *MonitorStore {
	return &MonitorStore{pool: pool}
}

const monitorColumns = `token_mint, status, config, launch_slot, excluded_wallets, total_supply, decimals,
	effective_window_blocks, hard_max_blocks, trigger_evidence, expired_reason, cursor_signature,
	created_at, expires_at, updated_at`

func (s *MonitorStore) Upsert(ctx context.Context, m *domain.Monitor) error {
	if m == nil || m.TokenMint == "" {
		return storage.ErrInvalidInput
	}

	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	excluded, err := json.Marshal(nonNil(m.ExcludedWallets))
	if err != nil {
		return fmt.Errorf("marshal excluded wallets: %w", err)
	}
	evidence, err := marshalEvidence(m.Evidence)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO launch_monitors (`+monitorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (token_mint) DO UPDATE
		SET status = EXCLUDED.status,
		    config = EXCLUDED.config,
		    launch_slot = EXCLUDED.launch_slot,
		    excluded_wallets = EXCLUDED.excluded_wallets,
		    total_supply = EXCLUDED.total_supply,
		    decimals = EXCLUDED.decimals,
		    effective_window_blocks = EXCLUDED.effective_window_blocks,
		    hard_max_blocks = EXCLUDED.hard_max_blocks,
		    trigger_evidence = EXCLUDED.trigger_evidence,
		    expired_reason = EXCLUDED.expired_reason,
		    cursor_signature = EXCLUDED.cursor_signature,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
		WHERE launch_monitors.status <> 'triggered'
	`,
		m.TokenMint, string(m.Status), cfg, int64(m.LaunchSlot), excluded, m.TotalSupply.String(), int16(m.Decimals),
		m.EffectiveWindowBlocks, m.HardMaxBlocks, evidence, string(m.ExpiredReason), m.Cursor,
		m.CreatedAt, m.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrTriggered
	}
	return nil
}

func (s *MonitorStore) UpdateStatus(ctx context.Context, tokenMint string, status domain.Status, extra storage.StatusExtra) error {
	if !status.Terminal() {
		return storage.ErrInvalidInput
	}
	evidence, err := marshalEvidence(extra.Evidence)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE launch_monitors
		SET status = $2,
		    trigger_evidence = COALESCE($3, trigger_evidence),
		    expired_reason = $4,
		    updated_at = NOW()
		WHERE token_mint = $1 AND status = 'monitoring'
	`, tokenMint, string(status), evidence, string(extra.ExpiredReason))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing updated: tell a missing record from a terminal one.
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM launch_monitors WHERE token_mint = $1`, tokenMint).Scan(&current)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return err
	}
	return storage.ErrTerminal
}

func (s *MonitorStore) UpdateCursor(ctx context.Context, tokenMint, cursor string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE launch_monitors
		SET cursor_signature = $2, updated_at = NOW()
		WHERE token_mint = $1
	`, tokenMint, cursor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *MonitorStore) Get(ctx context.Context, tokenMint string) (*domain.Monitor, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+monitorColumns+` FROM launch_monitors WHERE token_mint = $1`, tokenMint)
	m, err := scanMonitor(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *MonitorStore) ListActive(ctx context.Context) ([]*domain.Monitor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+monitorColumns+`
		FROM launch_monitors
		WHERE status = 'monitoring'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMonitor(row pgx.Row) (*domain.Monitor, error) {
	var (
		m                       domain.Monitor
		status, reason, supply  string
		cfg, excluded, evidence []byte
		launchSlot              int64
		decimals                int16
	)
	err := row.Scan(
		&m.TokenMint, &status, &cfg, &launchSlot, &excluded, &supply, &decimals,
		&m.EffectiveWindowBlocks, &m.HardMaxBlocks, &evidence, &reason, &m.Cursor,
		&m.CreatedAt, &m.ExpiresAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Status = domain.Status(status)
	m.ExpiredReason = domain.ExpiredReason(reason)
	m.LaunchSlot = uint64(launchSlot)
	m.Decimals = uint8(decimals)
	if m.TotalSupply, err = decimal.NewFromString(supply); err != nil {
		return nil, fmt.Errorf("total supply %q: %w", supply, err)
	}
	if err := json.Unmarshal(cfg, &m.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(excluded, &m.ExcludedWallets); err != nil {
		return nil, fmt.Errorf("unmarshal excluded wallets: %w", err)
	}
	if len(evidence) > 0 {
		m.Evidence = new(domain.TradeEvent)
		if err := json.Unmarshal(evidence, m.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	return &m, nil
}

func marshalEvidence(ev *domain.TradeEvent) ([]byte, error) {
	if ev == nil {
		return nil, nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}
	return b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ storage.MonitorStore = (*MonitorStore)(nil)
