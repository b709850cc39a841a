package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trading-assistant/internal/engine"
	"trading-assistant/internal/events"
	"trading-assistant/internal/transport/sim"
	"trading-assistant/pkg/config"
	"trading-assistant/pkg/db"
)

const testSecret = "test-secret"

func newTestAPIServer(t *testing.T) (*httptest.Server, *engine.Impl) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.Default()
	cfg.Trading.AutoConfirm = true
	host := sim.New(sim.Config{TickInterval: 5 * time.Millisecond, Seed: 3}, zerolog.Nop())
	eng, err := engine.New(cfg, engine.Options{Version: "test", Log: zerolog.Nop(), Transport: host, Database: database})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)

	srv := NewServer(eng, eng.Metrics(), testSecret, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		closeCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		_ = eng.Close(closeCtx)
		cancel()
	})
	return ts, eng
}

func authHeader(t *testing.T) string {
	t.Helper()
	token, _, err := GenerateToken("tester", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return "Bearer " + token
}

func doJSON(t *testing.T, method, url string, body any, auth string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connectEngine(t *testing.T, eng *engine.Impl) {
	t.Helper()
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "quote", func() bool { _, ok := eng.Quote("EURUSD"); return ok })
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil, "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health status=%d body=%v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}

	mresp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer mresp.Body.Close()
	if mresp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d, expected 200", mresp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestAPIServer(t)

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "MISSING_TOKEN"},
		{"malformed", "Token abc", http.StatusUnauthorized, "INVALID_AUTH_HEADER"},
		{"bad token", "Bearer not-a-jwt", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"valid", authHeader(t), http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/status", nil, tt.header)
			if resp.StatusCode != tt.status {
				t.Fatalf("status=%d, expected %d", resp.StatusCode, tt.status)
			}
			if tt.code != "" && body["code"] != tt.code {
				t.Fatalf("code=%v, expected %s", body["code"], tt.code)
			}
		})
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	token, _, err := GenerateToken("tester", testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/status", nil, "Bearer "+token)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, expected 401", resp.StatusCode)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	auth := authHeader(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing side", map[string]any{"symbol": "EURUSD", "volume": 0.1}},
		{"bad side", map[string]any{"side": "hold", "symbol": "EURUSD", "volume": 0.1}},
		{"missing symbol", map[string]any{"side": "buy", "volume": 0.1}},
		{"negative volume", map[string]any{"side": "buy", "symbol": "EURUSD", "volume": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/orders", tt.body, auth)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status=%d, expected 400 (%v)", resp.StatusCode, body)
			}
			if body["code"] != "INVALID_REQUEST" {
				t.Fatalf("code=%v, expected INVALID_REQUEST", body["code"])
			}
		})
	}
}

func TestCreateOrderWhileDisconnected(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/orders",
		map[string]any{"side": "buy", "symbol": "EURUSD", "volume": 0.1}, authHeader(t))
	if resp.StatusCode == http.StatusCreated {
		t.Fatalf("order accepted while disconnected: %v", body)
	}
	if body["error"] == nil || body["error"] == "" {
		t.Fatalf("expected a reason, got %v", body)
	}
}

func TestCreateAndClosePosition(t *testing.T) {
	ts, eng := newTestAPIServer(t)
	connectEngine(t, eng)
	auth := authHeader(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/orders",
		map[string]any{"side": "buy", "symbol": "eurusd", "volume": 0.1}, auth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status=%d body=%v, expected 201", resp.StatusCode, body)
	}
	if body["order_id"] == "" {
		t.Fatalf("missing order id: %v", body)
	}
	waitFor(t, "position", func() bool { return len(eng.Positions()) == 1 })
	id := eng.Positions()[0].ID

	resp, body = doJSON(t, http.MethodPut, ts.URL+"/api/positions/"+id, map[string]any{}, auth)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty modify status=%d, expected 400", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/positions/"+id+"/close", nil, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close status=%d body=%v", resp.StatusCode, body)
	}
	waitFor(t, "flat", func() bool { return len(eng.Positions()) == 0 })

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/performance", nil, auth)
	if resp.StatusCode != http.StatusOK || body["total"] != float64(2) {
		t.Fatalf("performance status=%d body=%v", resp.StatusCode, body)
	}
}

func TestRiskRejectionMapsTo422(t *testing.T) {
	ts, eng := newTestAPIServer(t)
	connectEngine(t, eng)

	// Far beyond the per-trade volume cap.
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/orders",
		map[string]any{"side": "sell", "symbol": "EURUSD", "volume": 10000}, authHeader(t))
	if resp.StatusCode != http.StatusUnprocessableEntity && resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d body=%v, expected a rejection", resp.StatusCode, body)
	}
	if len(eng.Positions()) != 0 {
		t.Fatalf("rejected order opened a position")
	}
}

func TestUnknownConfirmation(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/confirmations/nope",
		map[string]any{"approve": true}, authHeader(t))
	if resp.StatusCode != http.StatusNotFound || body["code"] != "UNKNOWN_CONFIRMATION" {
		t.Fatalf("status=%d body=%v, expected 404", resp.StatusCode, body)
	}
}

func TestSuggestVolumeRequiresStopLoss(t *testing.T) {
	ts, _ := newTestAPIServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/orders/suggest-volume?symbol=EURUSD&side=buy", nil, authHeader(t))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, expected 400", resp.StatusCode)
	}
}

func TestWebsocketStreamsEnvelopes(t *testing.T) {
	ts, eng := newTestAPIServer(t)
	token, _, err := GenerateToken("tester", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatalf("dial without token succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, expected 401", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var first struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Type != string(events.EventConnectionStatus) {
		t.Fatalf("first frame type=%s, expected %s", first.Type, events.EventConnectionStatus)
	}

	connectEngine(t, eng)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var env struct {
			Type string `json:"type"`
		}
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Type == string(events.EventQuote) {
			return
		}
	}
	t.Fatalf("no quote frame received")
}
