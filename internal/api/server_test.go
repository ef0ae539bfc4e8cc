package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/launch-guard/internal/bundle"
	"github.com/rovshanmuradov/launch-guard/internal/config"
	"github.com/rovshanmuradov/launch-guard/internal/domain"
	"github.com/rovshanmuradov/launch-guard/internal/launch"
	"github.com/rovshanmuradov/launch-guard/internal/metrics"
	"github.com/rovshanmuradov/launch-guard/internal/sniper"
)

const testMint = "So11111111111111111111111111111111111111112"

type mockMonitors struct {
	startFunc  func(ctx context.Context, req sniper.StartRequest) (*sniper.StartResponse, error)
	statusFunc func(ctx context.Context, token string) (*sniper.StatusResponse, error)
	cancelFunc func(ctx context.Context, token string) (*sniper.StatusResponse, error)
	active     int
}

func (m *mockMonitors) Start(ctx context.Context, req sniper.StartRequest) (*sniper.StartResponse, error) {
	return m.startFunc(ctx, req)
}

func (m *mockMonitors) Status(ctx context.Context, token string) (*sniper.StatusResponse, error) {
	return m.statusFunc(ctx, token)
}

func (m *mockMonitors) Cancel(ctx context.Context, token string) (*sniper.StatusResponse, error) {
	return m.cancelFunc(ctx, token)
}

func (m *mockMonitors) Active() int { return m.active }

type mockLauncher struct {
	launchFunc func(ctx context.Context, req launch.Request) (*launch.Result, error)
}

func (m *mockLauncher) Launch(ctx context.Context, req launch.Request) (*launch.Result, error) {
	return m.launchFunc(ctx, req)
}

func testConfig() config.HTTPConfig {
	return config.HTTPConfig{Listen: ":0", RateHz: 1000, RateBurst: 1000, ShutdownMs: 1000}
}

func newTestServer(t *testing.T, mon *mockMonitors, l *mockLauncher) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewServer(mon, l, reg, metrics.New(reg), testConfig(), zaptest.NewLogger(t)), reg
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func startBody() map[string]any {
	return map[string]any{
		"token_mint": testMint,
		"config": map[string]any{
			"enabled":               true,
			"max_supply_percent":    "5",
			"max_quote_amount":      "2",
			"window_blocks":         8,
			"mitigation_wallet_ids": []string{"dev-1"},
			"sell_percentage":       "100",
		},
		"launch_slot":  1000,
		"total_supply": "1000000000",
		"decimals":     6,
	}
}

func TestStartMonitor(t *testing.T) {
	expires := time.Date(2026, 1, 1, 0, 0, 4, 0, time.UTC)

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "created", wantCode: http.StatusCreated},
		{name: "validation", err: &sniper.ValidationError{Field: "config.window_blocks", Reason: "must be at least 1"}, wantCode: http.StatusBadRequest, wantErr: "window_blocks"},
		{name: "duplicate", err: fmt.Errorf("%s: %w", testMint, sniper.ErrMonitorActive), wantCode: http.StatusConflict, wantErr: "already active"},
		{name: "already triggered", err: fmt.Errorf("%s: %w", testMint, sniper.ErrAlreadyTriggered), wantCode: http.StatusConflict, wantErr: "already triggered"},
		{name: "shutting down", err: sniper.ErrShuttingDown, wantCode: http.StatusServiceUnavailable},
		{name: "store failure", err: fmt.Errorf("persist monitor: boom"), wantCode: http.StatusInternalServerError, wantErr: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got sniper.StartRequest
			mon := &mockMonitors{startFunc: func(_ context.Context, req sniper.StartRequest) (*sniper.StartResponse, error) {
				got = req
				if tt.err != nil {
					return nil, tt.err
				}
				return &sniper.StartResponse{
					TokenMint:             req.TokenMint,
					Status:                domain.StatusMonitoring,
					ExpiresAt:             expires,
					EffectiveWindowBlocks: 8,
					WindowMs:              4000,
					HardMaxBlocks:         10,
				}, nil
			}}
			srv, _ := newTestServer(t, mon, nil)

			rec := do(t, srv.Handler(), http.MethodPost, "/v1/monitors", startBody())
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, testMint, got.TokenMint)
			assert.Equal(t, 8, got.Config.WindowBlocks)
			assert.Equal(t, "100", got.Config.SellPercentage.String())

			if tt.wantCode == http.StatusCreated {
				var resp sniper.StartResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, int64(4000), resp.WindowMs)
				assert.True(t, expires.Equal(resp.ExpiresAt))
				return
			}
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Contains(t, resp.Error, tt.wantErr)
		})
	}
}

func TestStartMonitor_MalformedBody(t *testing.T) {
	mon := &mockMonitors{startFunc: func(context.Context, sniper.StartRequest) (*sniper.StartResponse, error) {
		t.Fatal("Start must not be called")
		return nil, nil
	}}
	srv, _ := newTestServer(t, mon, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/monitors", strings.NewReader(`{"token_mint": 7`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/v1/monitors", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitorStatus(t *testing.T) {
	mon := &mockMonitors{statusFunc: func(_ context.Context, token string) (*sniper.StatusResponse, error) {
		if token == testMint {
			return &sniper.StatusResponse{TokenMint: token, Status: domain.StatusTriggered, Triggered: true}, nil
		}
		return &sniper.StatusResponse{TokenMint: token, Status: domain.StatusNotFound}, nil
	}}
	srv, _ := newTestServer(t, mon, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/v1/monitors/"+testMint, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp sniper.StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Triggered)

	rec = do(t, srv.Handler(), http.MethodGet, "/v1/monitors/unknown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, domain.StatusNotFound, resp.Status)
}

func TestCancelMonitor(t *testing.T) {
	mon := &mockMonitors{cancelFunc: func(_ context.Context, token string) (*sniper.StatusResponse, error) {
		if token != testMint {
			return nil, fmt.Errorf("%s: %w", token, sniper.ErrNotActive)
		}
		return &sniper.StatusResponse{TokenMint: token, Status: domain.StatusExpired, ExpiredReason: domain.ReasonCancelled}, nil
	}}
	srv, _ := newTestServer(t, mon, nil)

	rec := do(t, srv.Handler(), http.MethodDelete, "/v1/monitors/"+testMint, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp sniper.StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, domain.ReasonCancelled, resp.ExpiredReason)

	rec = do(t, srv.Handler(), http.MethodDelete, "/v1/monitors/other", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitLaunch(t *testing.T) {
	landed := &launch.Result{
		Submission: &bundle.Submission{ID: "sub-1", Method: bundle.MethodAtomic, Success: true},
		LaunchSlot: 1000,
		Monitor:    &sniper.StartResponse{TokenMint: testMint, Status: domain.StatusMonitoring},
	}

	tests := []struct {
		name     string
		res      *launch.Result
		err      error
		wantCode int
		wantBody bool
	}{
		{name: "landed", res: landed, wantCode: http.StatusOK, wantBody: true},
		{name: "invalid request", err: fmt.Errorf("decode: %w", launch.ErrInvalidRequest), wantCode: http.StatusBadRequest},
		{name: "invalid bundle", err: fmt.Errorf("validate: %w", bundle.ErrInvalidBundle), wantCode: http.StatusBadRequest},
		{name: "submission failed", res: &launch.Result{Submission: &bundle.Submission{ID: "sub-2"}}, err: bundle.ErrSubmissionFailed, wantCode: http.StatusBadGateway, wantBody: true},
		{name: "protection failed", res: landed, err: fmt.Errorf("%w: store down", launch.ErrProtectionNotStarted), wantCode: http.StatusBadGateway, wantBody: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &mockLauncher{launchFunc: func(_ context.Context, req launch.Request) (*launch.Result, error) {
				assert.Equal(t, testMint, req.TokenMint)
				assert.True(t, req.AllowSequentialFallback)
				return tt.res, tt.err
			}}
			srv, _ := newTestServer(t, &mockMonitors{}, l)

			rec := do(t, srv.Handler(), http.MethodPost, "/v1/launches", map[string]any{
				"token_mint":                testMint,
				"transactions":              []string{"AQ=="},
				"allow_sequential_fallback": true,
			})
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			if tt.wantBody {
				assert.Contains(t, resp, "submission")
			} else {
				assert.NotContains(t, resp, "submission")
			}
			if tt.err != nil {
				assert.NotEmpty(t, resp["error"])
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &mockMonitors{active: 3}, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, 3, health.ActiveMonitors)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "launchguard_api_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/healthz"`)
}

func TestRateLimit(t *testing.T) {
	mon := &mockMonitors{statusFunc: func(_ context.Context, token string) (*sniper.StatusResponse, error) {
		return &sniper.StatusResponse{TokenMint: token, Status: domain.StatusNotFound}, nil
	}}
	reg := prometheus.NewRegistry()
	cfg := testConfig()
	cfg.RateHz, cfg.RateBurst = 0.001, 2
	srv := NewServer(mon, nil, reg, metrics.New(reg), cfg, zaptest.NewLogger(t))
	h := srv.Handler()

	get := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/monitors/x", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("1.1.1.1"))
	assert.Equal(t, http.StatusOK, get("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("1.1.1.1"))
	assert.Equal(t, http.StatusOK, get("2.2.2.2"))
	assert.Equal(t, 2, srv.limiter.Clients())

	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil).Code)
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.Equal(t, 1, rl.Clients())

	now = now.Add(staleLimiterTTL + time.Minute)
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 1, rl.Clients())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Real-IP", " 198.51.100.7 ")
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}
