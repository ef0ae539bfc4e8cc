package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rovshanmuradov/launch-guard/internal/domain"
)

func TestBus_PublishDelivers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 10)
	defer bus.Shutdown(context.Background())

	got := make(chan Event, 1)
	bus.SubscribeFunc(MonitorExpired, func(_ context.Context, e Event) error {
		got <- e
		return nil
	})

	require.NoError(t, bus.Publish(NewMonitorExpired("mint", domain.ReasonSlotLimit)))

	select {
	case e := <-got:
		ev, ok := e.(MonitorExpiredEvent)
		require.True(t, ok)
		assert.Equal(t, domain.ReasonSlotLimit, ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_PublishSyncCollectsErrors(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown(context.Background())

	boom := errors.New("boom")
	bus.SubscribeFunc(MitigationFailed, func(context.Context, Event) error { return boom })

	err := bus.PublishSync(context.Background(), NewMitigation(false, "mint"))
	assert.ErrorIs(t, err, boom)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown(context.Background())

	var calls atomic.Int32
	sub := bus.SubscribeFunc(MonitorStarted, func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	assert.Equal(t, MonitorStarted, sub.EventType())
	assert.Equal(t, 1, bus.Stats().HandlersPerType[string(MonitorStarted)])

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, bus.PublishSync(context.Background(), NewMonitorStarted(&domain.Monitor{TokenMint: "m"}, false)))
	assert.Zero(t, calls.Load())
	assert.Zero(t, bus.Stats().HandlersPerType[string(MonitorStarted)])
}

func TestBus_PublishAfterShutdown(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.ErrorIs(t, bus.Publish(NewMonitorExpired("m", domain.ReasonCancelled)), ErrBusClosed)
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 32)

	var mu sync.Mutex
	var got []string
	record := func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		switch ev := e.(type) {
		case MonitorStartedEvent:
			got = append(got, "started:"+ev.TokenMint)
		case MonitorExpiredEvent:
			got = append(got, "expired:"+ev.TokenMint)
		}
		return nil
	}
	bus.SubscribeFunc(MonitorStarted, record)
	bus.SubscribeFunc(MonitorExpired, record)

	var want []string
	for i := 0; i < 10; i++ {
		mint := fmt.Sprintf("mint-%d", i)
		require.NoError(t, bus.Publish(NewMonitorStarted(&domain.Monitor{TokenMint: mint}, false)))
		require.NoError(t, bus.Publish(NewMonitorExpired(mint, domain.ReasonWindowElapsed)))
		want = append(want, "started:"+mint, "expired:"+mint)
	}

	// Shutdown drains the queue before returning.
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(20), bus.Stats().Published)
}

func TestBus_DropsWhenQueueFull(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	bus.SubscribeFunc(MonitorExpired, func(context.Context, Event) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})

	require.NoError(t, bus.Publish(NewMonitorExpired("a", domain.ReasonCancelled)))
	<-entered
	require.NoError(t, bus.Publish(NewMonitorExpired("b", domain.ReasonCancelled)))
	assert.ErrorIs(t, bus.Publish(NewMonitorExpired("c", domain.ReasonCancelled)), ErrBufferFull)

	close(release)
	require.NoError(t, bus.Shutdown(context.Background()))

	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestBus_HandlerPanicIsReported(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown(context.Background())

	var after atomic.Int32
	bus.SubscribeFunc(LaunchSubmitted, func(context.Context, Event) error { panic("bad handler") })
	bus.SubscribeFunc(LaunchSubmitted, func(context.Context, Event) error {
		after.Add(1)
		return nil
	})

	err := bus.PublishSync(context.Background(), NewLaunchSubmitted("mint", "sub", "atomic", true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad handler")
	assert.Equal(t, int32(1), after.Load())
}

func TestJournal_LogsEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown(context.Background())

	j := NewJournal(bus, zap.New(core))
	require.NoError(t, bus.PublishSync(context.Background(), NewLaunchSubmitted("mint", "sub-1", "atomic", true)))

	entries := logs.FilterMessage("Lifecycle event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "launch.submitted", entries[0].ContextMap()["event"])
	assert.Equal(t, "sub-1", entries[0].ContextMap()["submission_id"])

	j.Close()
	require.NoError(t, bus.PublishSync(context.Background(), NewLaunchSubmitted("mint", "sub-2", "atomic", true)))
	assert.Len(t, logs.FilterMessage("Lifecycle event").All(), 1)
}

type memRecorder struct {
	rows [][]string
	err  error
}

func (m *memRecorder) WriteRecord(r []string) error {
	m.rows = append(m.rows, r)
	return m.err
}

func TestJournal_WritesAuditRecords(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown(context.Background())

	rec := &memRecorder{}
	j := NewJournal(bus, zaptest.NewLogger(t), WithRecorder(rec))
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, bus.PublishSync(ctx, NewMonitorTriggered("mint", domain.TradeEvent{Signature: "sig-1", Trader: "sniper", Slot: 1002})))
	require.NoError(t, bus.PublishSync(ctx, NewMonitorExpired("mint-2", domain.ReasonSlotLimit)))

	failed := NewMitigation(false, "mint")
	failed.Wallets, failed.Landed, failed.Error = 2, 0, "relay down"
	require.NoError(t, bus.PublishSync(ctx, failed))

	require.Len(t, rec.rows, 3)
	for _, r := range rec.rows {
		assert.Len(t, r, len(AuditHeader))
	}
	assert.Equal(t, []string{"monitor.triggered", "mint", "sig-1", "sniper"}, rec.rows[0][1:5])
	assert.Contains(t, rec.rows[0][7], "slot=1002")
	assert.Equal(t, "slot_limit", rec.rows[1][5])
	assert.Equal(t, "false", rec.rows[2][6])
	assert.Equal(t, "relay down", rec.rows[2][5])
}

func TestJournal_RecorderErrorIsNotFatal(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown(context.Background())

	rec := &memRecorder{err: errors.New("disk full")}
	NewJournal(bus, zaptest.NewLogger(t), WithRecorder(rec))

	assert.NoError(t, bus.PublishSync(context.Background(), NewMonitorExpired("mint", domain.ReasonCancelled)))
	assert.Len(t, rec.rows, 1)
}
