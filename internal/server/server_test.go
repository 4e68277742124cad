package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcusNeufeldt/fundingscope/internal/config"
	"github.com/MarcusNeufeldt/fundingscope/internal/core"
	"github.com/MarcusNeufeldt/fundingscope/internal/mock"
)

func testServerConfig() config.ServerConfig {
	cfg := config.DefaultConfig().Server
	cfg.RateLimitPerSec = 1000
	cfg.RateLimitBurst = 1000
	return cfg
}

func newTestServer(t *testing.T, feed core.PriceFeed) *Server {
	t.Helper()
	return New(testServerConfig(), config.DefaultConfig().Calc, feed, nil, nil)
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func validRequest() map[string]interface{} {
	return map[string]interface{}{
		"initial_investment": 1000.0,
		"leverage":           10.0,
		"current_price":      100.0,
		"target_price":       110.0,
		"time_horizon_days":  30,
		"funding_rate":       0.01,
		"direction":          "long",
		"scenario":           "linear",
	}
}

func TestHandleProjection(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).Handler())
	defer ts.Close()

	resp := postJSON(t, ts, "/api/v1/projection", validRequest())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	body := decodeBody(t, resp)
	points, ok := body["points"].([]interface{})
	require.True(t, ok)
	assert.Len(t, points, 31) // day 0 through 30

	chartPoints, ok := body["chart_points"].([]interface{})
	require.True(t, ok)
	assert.LessOrEqual(t, len(chartPoints), len(points))

	liq, ok := body["liquidation"].(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 90.0, liq["liquidation_price"].(float64), 1e-9)
}

func TestHandleProjection_BadInputs(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).Handler())
	defer ts.Close()

	cases := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"unknown scenario", func(m map[string]interface{}) { m["scenario"] = "hopium" }},
		{"leverage above limit", func(m map[string]interface{}) { m["leverage"] = 500.0 }},
		{"horizon above limit", func(m map[string]interface{}) { m["time_horizon_days"] = 5000 }},
		{"zero investment", func(m map[string]interface{}) { m["initial_investment"] = 0.0 }},
		{"bad direction", func(m map[string]interface{}) { m["direction"] = "sideways" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)
			resp := postJSON(t, ts, "/api/v1/projection", req)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHandleProjection_MalformedBody(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/projection", "application/json",
		strings.NewReader(`{"leverage": "ten"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleComparison(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).Handler())
	defer ts.Close()

	resp := postJSON(t, ts, "/api/v1/comparison", validRequest())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.InDelta(t, 100.0, body["spot_pnl"].(float64), 1e-6)
	assert.Contains(t, body, "leverage_worth_it")
	assert.Contains(t, body, "funding_significant")
}

func TestHandleRecommendations(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).Handler())
	defer ts.Close()

	resp := postJSON(t, ts, "/api/v1/recommendations", validRequest())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	recs, ok := body["recommendations"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, recs)
	assert.Contains(t, body, "comparison")
}

func TestHandleScenarioMatrix(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).Handler())
	defer ts.Close()

	resp := postJSON(t, ts, "/api/v1/scenarios/matrix", validRequest())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	entries, ok := body["entries"].([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 8)

	seen := map[string]bool{}
	for _, raw := range entries {
		entry := raw.(map[string]interface{})
		assert.Empty(t, entry["error"])
		seen[entry["scenario"].(string)] = true
	}
	assert.Len(t, seen, 8, "every scenario appears exactly once")
}

func TestHandleScenarioMatrix_BadInput(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).Handler())
	defer ts.Close()

	req := validRequest()
	req["initial_investment"] = -5.0
	resp := postJSON(t, ts, "/api/v1/scenarios/matrix", req)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleScenarios(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/scenarios")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	scenarios, ok := body["scenarios"].([]interface{})
	require.True(t, ok)
	assert.Len(t, scenarios, 8)
}

func TestHandleMarket(t *testing.T) {
	feed := mock.NewFeed()
	feed.SetSnapshot(core.MarketSnapshot{Symbol: "BTCUSDT", Price: 64000, FundingRate: 0.01})
	ts := httptest.NewServer(newTestServer(t, feed).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/market/BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "BTCUSDT", body["symbol"])
	assert.InDelta(t, 64000.0, body["price"].(float64), 1e-9)

	resp, err = http.Get(ts.URL + "/api/v1/market/NOPEUSDT")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleMarket_NoFeedConfigured(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/market/BTCUSDT")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleInstruments(t *testing.T) {
	feed := mock.NewFeed()
	feed.SetInstruments([]core.Instrument{
		{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"},
	})
	ts := httptest.NewServer(newTestServer(t, feed).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/instruments")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	instruments := body["instruments"].([]interface{})
	assert.Len(t, instruments, 1)
}

func TestFeedResolvesFundingRate(t *testing.T) {
	feed := mock.NewFeed()
	feed.SetSnapshot(core.MarketSnapshot{Symbol: "ETHUSDT", Price: 3200, FundingRate: 0.02})
	ts := httptest.NewServer(newTestServer(t, feed).Handler())
	defer ts.Close()

	req := validRequest()
	delete(req, "funding_rate")
	req["symbol"] = "ETHUSDT"
	resp := postJSON(t, ts, "/api/v1/comparison", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// 0.02%/interval doubles the funding drag of the default.
	body := decodeBody(t, resp)
	assert.Greater(t, body["funding_drag_pct"].(float64), 0.0)
}

func TestRateLimiting(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimitPerSec = 1
	cfg.RateLimitBurst = 2
	srv := New(cfg, config.DefaultConfig().Calc, nil, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var limited bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/api/v1/scenarios")
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited, "burst of 2 should throttle 5 rapid requests")
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestWebSocket_BroadcastRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := newTestServer(t, nil)
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return srv.Hub().ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	srv.Hub().Broadcast(NewMarketMessage(core.MarketSnapshot{Symbol: "BTCUSDT", Price: 64000}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeMarket, msg.Type)
}

func TestWebSocket_MissingOriginRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := newTestServer(t, nil)
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(wsURL, http.Header{})
	if conn != nil {
		conn.Close()
	}
	if resp != nil {
		resp.Body.Close()
	}
	assert.Error(t, err)
}

func TestWebSocket_ConnectionLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testServerConfig()
	cfg.MaxWSConnections = 1
	srv := New(cfg, config.DefaultConfig().Calc, nil, nil, nil)
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://example.com"}}

	first, resp1, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp1 != nil {
		resp1.Body.Close()
	}
	defer first.Close()

	require.Eventually(t, func() bool {
		return srv.Hub().ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	second, resp2, err := websocket.DefaultDialer.Dial(wsURL, header)
	if second != nil {
		second.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp2)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}
