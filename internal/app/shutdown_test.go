package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestShutdownHandler_ReverseOrder(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) StopFunc {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	sh.Add("store", record("store"))
	sh.Add("monitors", record("monitors"))
	sh.AddFunc("api", func() error { return record("api")(context.Background()) })

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Equal(t, []string{"api", "monitors", "store"}, order)

	// Second call does not re-run the stages.
	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Len(t, order, 3)
}

func TestShutdownHandler_ContinuesPastFailures(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), time.Second)

	stopped := false
	sh.Add("store", func(context.Context) error { stopped = true; return nil })
	sh.Add("bus", func(context.Context) error { return errors.New("queue stuck") })

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus: queue stuck")
	assert.True(t, stopped)
}

func TestShutdownHandler_Timeout(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), 20*time.Millisecond)

	release := make(chan struct{})
	defer close(release)
	sh.Add("slow", func(context.Context) error { <-release; return nil })

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow: shutdown timeout")
}
