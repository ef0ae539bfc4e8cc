// internal/events/journal.go
package events

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// AuditHeader names the columns of the records a Journal writes.
var AuditHeader = []string{"timestamp", "event", "token", "signature", "trader", "reason", "success", "detail"}

// RecordWriter persists one audit record.
type RecordWriter interface {
	WriteRecord(record []string) error
}

// Journal writes every lifecycle event to the log, and optionally to a
// record sink, as an audit trail.
type Journal struct {
	logger   *zap.Logger
	recorder RecordWriter
	subs     []*Subscription
}

type JournalOption func(*Journal)

// WithRecorder mirrors every journaled event into w, one AuditHeader row each.
func WithRecorder(w RecordWriter) JournalOption {
	return func(j *Journal) { j.recorder = w }
}

// NewJournal subscribes to all monitor, mitigation and launch events on bus.
func NewJournal(bus *Bus, logger *zap.Logger, opts ...JournalOption) *Journal {
	j := &Journal{logger: logger.Named("journal")}
	for _, opt := range opts {
		opt(j)
	}
	for _, t := range []EventType{
		MonitorStarted, MonitorTriggered, MonitorExpired,
		MitigationCompleted, MitigationFailed, LaunchSubmitted,
	} {
		j.subs = append(j.subs, bus.SubscribeFunc(t, j.handle))
	}
	return j
}

func (j *Journal) handle(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event", string(e.Type())),
		zap.Time("at", e.Timestamp()),
	}
	row := auditRow{event: string(e.Type()), at: e.Timestamp()}

	switch ev := e.(type) {
	case MonitorStartedEvent:
		fields = append(fields,
			zap.String("token", ev.TokenMint),
			zap.Uint64("launch_slot", ev.LaunchSlot),
			zap.Int("window_blocks", ev.EffectiveWindowBlocks),
			zap.Time("expires_at", ev.ExpiresAt),
			zap.Bool("resumed", ev.Resumed))
		row.token = ev.TokenMint
		row.detail = "launch_slot=" + strconv.FormatUint(ev.LaunchSlot, 10) +
			" window_blocks=" + strconv.Itoa(ev.EffectiveWindowBlocks) +
			" resumed=" + strconv.FormatBool(ev.Resumed)
	case MonitorTriggeredEvent:
		fields = append(fields,
			zap.String("token", ev.TokenMint),
			zap.String("signature", ev.Trade.Signature),
			zap.String("trader", ev.Trade.Trader),
			zap.Uint64("slot", ev.Trade.Slot),
			zap.String("token_amount", ev.Trade.TokenAmount.String()),
			zap.String("quote_amount", ev.Trade.QuoteAmount.String()))
		row.token, row.signature, row.trader = ev.TokenMint, ev.Trade.Signature, ev.Trade.Trader
		row.detail = "slot=" + strconv.FormatUint(ev.Trade.Slot, 10) +
			" tokens=" + ev.Trade.TokenAmount.String() +
			" quote=" + ev.Trade.QuoteAmount.String()
	case MonitorExpiredEvent:
		fields = append(fields,
			zap.String("token", ev.TokenMint),
			zap.String("reason", string(ev.Reason)))
		row.token, row.reason = ev.TokenMint, string(ev.Reason)
	case MitigationEvent:
		fields = append(fields,
			zap.String("token", ev.TokenMint),
			zap.Int("wallets", ev.Wallets),
			zap.Int("landed", ev.Landed),
			zap.Duration("duration", ev.Duration),
			zap.String("error", ev.Error))
		row.token, row.signature, row.reason = ev.TokenMint, ev.TriggerTx, ev.Error
		row.success = strconv.FormatBool(ev.Type() == MitigationCompleted)
		row.detail = "wallets=" + strconv.Itoa(ev.Wallets) + " landed=" + strconv.Itoa(ev.Landed) +
			" duration=" + ev.Duration.String()
	case LaunchSubmittedEvent:
		fields = append(fields,
			zap.String("token", ev.TokenMint),
			zap.String("submission_id", ev.SubmissionID),
			zap.String("method", ev.Method),
			zap.Bool("success", ev.Success))
		row.token, row.success = ev.TokenMint, strconv.FormatBool(ev.Success)
		row.detail = "submission=" + ev.SubmissionID + " method=" + ev.Method
	}

	j.logger.Info("Lifecycle event", fields...)

	if j.recorder != nil {
		if err := j.recorder.WriteRecord(row.record()); err != nil {
			j.logger.Warn("Audit record not written", zap.String("event", row.event), zap.Error(err))
		}
	}
	return nil
}

type auditRow struct {
	at                                      time.Time
	event, token, signature, trader, reason string
	success, detail                         string
}

func (r auditRow) record() []string {
	return []string{r.at.UTC().Format(time.RFC3339Nano), r.event, r.token, r.signature, r.trader, r.reason, r.success, r.detail}
}

// Close removes the journal's subscriptions.
func (j *Journal) Close() {
	for _, s := range j.subs {
		s.Unsubscribe()
	}
	j.subs = nil
}
