package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trading-assistant/internal/transport"
)

var _ transport.Transport = (*Client)(nil)
var _ transport.HistorySource = (*Client)(nil)

// fakeHost answers requests by method. positions is never answered so tests
// can observe pending calls when the host goes away.
type fakeHost struct {
	t       *testing.T
	srv     *httptest.Server
	conns   chan *websocket.Conn
	holding chan struct{}
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	h := &fakeHost{t: t, conns: make(chan *websocket.Conn, 4), holding: make(chan struct{}, 4)}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- conn
		h.serve(conn)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHost) url() string { return "ws" + strings.TrimPrefix(h.srv.URL, "http") }

func (h *fakeHost) serve(conn *websocket.Conn) {
	for {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		switch req.Method {
		case MethodHandshake, MethodPing, MethodModifyPosition:
			_ = conn.WriteJSON(Message{ID: req.ID, Result: json.RawMessage(`{}`)})
		case MethodSubscribe:
			_ = conn.WriteJSON(Message{ID: req.ID, Result: json.RawMessage(`{}`)})
			_ = conn.WriteJSON(Message{Event: PushQuote, Data: json.RawMessage(`{"symbol":"EURUSD","bid":1.1,"ask":1.1002}`)})
		case MethodAccount:
			_ = conn.WriteJSON(Message{ID: req.ID, Result: json.RawMessage(`{"balance":1000,"equity":1010}`)})
		case MethodClosePosition:
			var p closeParams
			_ = json.Unmarshal(req.Params, &p)
			res, _ := json.Marshal(transport.CloseResult{ClosedVolume: p.Volume, Profit: 4.5})
			_ = conn.WriteJSON(Message{ID: req.ID, Result: res})
		case MethodCreateOrder:
			_ = conn.WriteJSON(Message{ID: req.ID, Error: &WireError{Code: ErrCodeRejected, Message: "market closed"}})
		case MethodSymbols:
			_ = conn.WriteJSON(Message{ID: req.ID, Error: &WireError{Code: "internal", Message: "boom"}})
		case MethodPositions:
			h.holding <- struct{}{}
		}
	}
}

func (h *fakeHost) conn() *websocket.Conn {
	h.t.Helper()
	select {
	case c := <-h.conns:
		return c
	case <-time.After(time.Second):
		h.t.Fatal("host never accepted")
		return nil
	}
}

func connect(t *testing.T, h *fakeHost) *Client {
	t.Helper()
	c := New(h.url(), zerolog.Nop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ev := nextEvent(t, c); ev.Kind != transport.EventOpened {
		t.Fatalf("first event=%v, expected opened", ev.Kind)
	}
	return c
}

func nextEvent(t *testing.T, c *Client) transport.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return transport.Event{}
	}
}

func TestRequestsCorrelateResponses(t *testing.T) {
	h := newFakeHost(t)
	c := connect(t, h)
	defer c.Disconnect()
	ctx := context.Background()

	if err := c.Handshake(ctx, transport.Registration{ClientID: "c1"}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	acc, err := c.GetAccount(ctx)
	if err != nil || acc.Balance != 1000 || acc.Equity != 1010 {
		t.Fatalf("GetAccount=%+v,%v", acc, err)
	}
	cr, err := c.ClosePosition(ctx, "p1", 0.25)
	if err != nil || cr.ClosedVolume != 0.25 || cr.Profit != 4.5 {
		t.Fatalf("ClosePosition=%+v,%v", cr, err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestPushQuoteIsDelivered(t *testing.T) {
	h := newFakeHost(t)
	c := connect(t, h)
	defer c.Disconnect()

	if err := c.SubscribeQuotes(context.Background(), []string{"EURUSD"}); err != nil {
		t.Fatalf("SubscribeQuotes: %v", err)
	}
	ev := nextEvent(t, c)
	if ev.Kind != transport.EventQuote || ev.Quote.Symbol != "EURUSD" || ev.Quote.Ask != 1.1002 {
		t.Fatalf("event=%+v", ev)
	}
}

func TestHostErrors(t *testing.T) {
	h := newFakeHost(t)
	c := connect(t, h)
	defer c.Disconnect()
	ctx := context.Background()

	_, err := c.CreateOrder(ctx, transport.OrderSpec{Symbol: "EURUSD", Side: transport.SideBuy, Volume: 0.1})
	var rj *transport.Rejected
	if !errors.As(err, &rj) || rj.Reason != "market closed" {
		t.Fatalf("CreateOrder err=%v, expected rejection", err)
	}

	_, err = c.GetSymbols(ctx)
	if err == nil || errors.As(err, &rj) {
		t.Fatalf("GetSymbols err=%v, expected a plain host error", err)
	}
}

func TestHostCloseFailsPendingAndEmitsClosed(t *testing.T) {
	h := newFakeHost(t)
	c := connect(t, h)
	server := h.conn()

	errc := make(chan error, 1)
	go func() {
		_, err := c.GetPositions(context.Background())
		errc <- err
	}()
	select {
	case <-h.holding:
	case <-time.After(time.Second):
		t.Fatal("request never reached the host")
	}
	server.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, transport.ErrClosed) {
			t.Fatalf("pending err=%v, expected ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call never failed")
	}
	if ev := nextEvent(t, c); ev.Kind != transport.EventClosed || ev.Err == nil {
		t.Fatalf("event=%+v, expected closed", ev)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("Ping after close=%v", err)
	}
}

func TestDisconnectIsSilent(t *testing.T) {
	h := newFakeHost(t)
	c := connect(t, h)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCallHonoursContext(t *testing.T) {
	h := newFakeHost(t)
	c := connect(t, h)
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.GetPositions(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, expected deadline", err)
	}
	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("pending=%d after cancel, expected 0", n)
	}
}
