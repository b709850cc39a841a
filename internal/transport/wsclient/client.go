// Package wsclient binds the assistant to a host over a websocket carrying
// JSON requests, correlated responses and push events.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trading-assistant/internal/transport"
)

var errUnknownPush = errors.New("unknown push event")

const writeWait = 10 * time.Second

type response struct {
	result json.RawMessage
	err    error
}

// Client implements transport.Transport and transport.HistorySource.
type Client struct {
	url    string
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan response
	writeMu sync.Mutex
	nextID  atomic.Uint64

	events chan transport.Event
}

func New(url string, log zerolog.Logger) *Client {
	return &Client{
		url:     url,
		dialer:  websocket.DefaultDialer,
		log:     log.With().Str("component", "wsclient").Logger(),
		pending: make(map[uint64]chan response),
		events:  make(chan transport.Event, 1024),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial host: %w", err)
	}
	c.mu.Lock()
	old := c.conn
	var stale map[uint64]chan response
	if old != nil {
		stale = c.takePendingLocked()
	}
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		failAll(stale)
		_ = old.Close()
	}

	go c.readLoop(conn)
	c.events <- transport.Event{Kind: transport.EventOpened}
	return nil
}

// Disconnect closes the channel without emitting a closed event.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	pending := c.takePendingLocked()
	c.mu.Unlock()
	failAll(pending)
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			c.log.Warn().Err(err).Msg("undecodable host message")
			continue
		}
		if m.Event != "" {
			ev, err := decodePush(m)
			if err != nil {
				c.log.Warn().Err(err).Str("event", m.Event).Msg("push dropped")
				continue
			}
			c.deliver(ev)
			continue
		}
		c.resolve(m)
	}
}

// deliver drops quotes when the consumer lags; other pushes are never dropped.
func (c *Client) deliver(ev transport.Event) {
	if ev.Kind == transport.EventQuote {
		select {
		case c.events <- ev:
		default:
			c.log.Debug().Str("symbol", ev.Quote.Symbol).Msg("quote dropped, consumer lagging")
		}
		return
	}
	c.events <- ev
}

func (c *Client) resolve(m Message) {
	c.mu.Lock()
	ch, ok := c.pending[m.ID]
	delete(c.pending, m.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if m.Error != nil {
		if m.Error.Code == ErrCodeRejected {
			ch <- response{err: &transport.Rejected{Reason: m.Error.Message}}
		} else {
			ch <- response{err: fmt.Errorf("host error %s: %s", m.Error.Code, m.Error.Message)}
		}
		return
	}
	ch <- response{result: m.Result}
}

// lost handles the end of conn's read loop. Only the live connection fails
// pending calls and emits a closed event, so a manual Disconnect stays silent.
func (c *Client) lost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.takePendingLocked()
	c.mu.Unlock()

	failAll(pending)
	_ = conn.Close()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		strings.Contains(err.Error(), "use of closed network connection") {
		c.log.Info().Msg("host closed the connection")
	} else {
		c.log.Warn().Err(err).Msg("host connection lost")
	}
	c.events <- transport.Event{Kind: transport.EventClosed, Err: err}
}

func (c *Client) takePendingLocked() map[uint64]chan response {
	p := c.pending
	c.pending = make(map[uint64]chan response)
	return p
}

func failAll(pending map[uint64]chan response) {
	for _, ch := range pending {
		ch <- response{err: transport.ErrClosed}
	}
}

// call sends one request and waits for its response or ctx.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return transport.ErrNotConnected
	}
	id := c.nextID.Add(1)
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return fmt.Errorf("encode %s: %w", method, err)
	}
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return resp.err
		}
		if out == nil || len(resp.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.result, out); err != nil {
			return fmt.Errorf("decode %s: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) Handshake(ctx context.Context, reg transport.Registration) error {
	return c.call(ctx, MethodHandshake, reg, nil)
}

func (c *Client) SubscribeQuotes(ctx context.Context, symbols []string) error {
	return c.call(ctx, MethodSubscribe, symbolsParams{Symbols: symbols}, nil)
}

func (c *Client) UnsubscribeQuotes(ctx context.Context, symbols []string) error {
	return c.call(ctx, MethodUnsubscribe, symbolsParams{Symbols: symbols}, nil)
}

func (c *Client) GetAccount(ctx context.Context) (transport.AccountSnapshot, error) {
	var acc transport.AccountSnapshot
	err := c.call(ctx, MethodAccount, nil, &acc)
	return acc, err
}

func (c *Client) GetPositions(ctx context.Context) ([]transport.Position, error) {
	var ps []transport.Position
	err := c.call(ctx, MethodPositions, nil, &ps)
	return ps, err
}

func (c *Client) GetSymbols(ctx context.Context) ([]transport.SymbolInfo, error) {
	var ss []transport.SymbolInfo
	err := c.call(ctx, MethodSymbols, nil, &ss)
	return ss, err
}

func (c *Client) CreateOrder(ctx context.Context, spec transport.OrderSpec) (transport.OrderResult, error) {
	var res transport.OrderResult
	err := c.call(ctx, MethodCreateOrder, spec, &res)
	return res, err
}

func (c *Client) ClosePosition(ctx context.Context, id string, volume float64) (transport.CloseResult, error) {
	var res transport.CloseResult
	err := c.call(ctx, MethodClosePosition, closeParams{PositionID: id, Volume: volume}, &res)
	return res, err
}

func (c *Client) ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	return c.call(ctx, MethodModifyPosition, modifyParams{PositionID: id, StopLoss: stopLoss, TakeProfit: takeProfit}, nil)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, nil)
}

func (c *Client) History(ctx context.Context, symbol, timeframe string, limit int) ([]transport.Candle, error) {
	var out []transport.Candle
	err := c.call(ctx, MethodHistory, historyParams{Symbol: symbol, Timeframe: timeframe, Limit: limit}, &out)
	return out, err
}

func (c *Client) Events() <-chan transport.Event { return c.events }
