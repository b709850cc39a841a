// Package connection owns the lifecycle of the link to the host platform.
package connection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/events"
	"trading-assistant/internal/monitor"
	"trading-assistant/internal/transport"
)

// ErrAlreadyActive is returned by Connect unless the manager is Disconnected or Failed.
var ErrAlreadyActive = errors.New("connection already active")

// Poster runs handlers on the single event loop.
type Poster interface {
	Post(fn func()) bool
	Call(ctx context.Context, fn func()) error
}

// Registrar produces the handshake payload.
type Registrar interface {
	Registration() (transport.Registration, error)
}

type Config struct {
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
}

// Handlers receive host data. They run on the event loop.
type Handlers struct {
	OnQuote     func(transport.Quote)
	OnExecution func(transport.ExecutionEvent)
	OnAccount   func(transport.AccountSnapshot)
	OnPositions func([]transport.Position)
	OnSymbols   func([]transport.SymbolInfo)
}

// Manager drives the Disconnected → Connecting → Handshaking → Connected state
// machine and is the only component that decides about reconnection.
// Fields below the mirror are owned by the event loop.
type Manager struct {
	tr       transport.Transport
	loop     Poster
	cfg      Config
	reg      Registrar
	handlers Handlers
	bus      *events.Bus
	metrics  *monitor.Metrics
	log      zerolog.Logger
	now      func() time.Time

	runCtx context.Context

	mu     sync.RWMutex
	mirror Status

	state      State
	attempts   int
	epoch      uint64
	timer      *time.Timer
	hbCancel   context.CancelFunc
	refs       map[string]int
	lastSymbol string
}

// Options collects the optional collaborators of a Manager.
type Options struct {
	Registrar Registrar
	Handlers  Handlers
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	Log       zerolog.Logger
}

func NewManager(tr transport.Transport, loop Poster, cfg Config, opts Options) *Manager {
	if cfg.MaxReconnectAttempts < 1 {
		cfg.MaxReconnectAttempts = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	m := &Manager{
		tr:       tr,
		loop:     loop,
		cfg:      cfg,
		reg:      opts.Registrar,
		handlers: opts.Handlers,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		log:      opts.Log.With().Str("component", "connection").Logger(),
		now:      time.Now,
		runCtx:   context.Background(),
		refs:     make(map[string]int),
	}
	m.mirror = Status{State: Disconnected, StateName: Disconnected.String()}
	return m
}

// Start pumps transport events onto the loop until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.runCtx = ctx
	go func() {
		evs := m.tr.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-evs:
				if !ok {
					return
				}
				if !m.loop.Post(func() { m.handleEvent(ev) }) {
					return
				}
			}
		}
	}()
}

// Status returns the latest published status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mirror
}

func (m *Manager) State() State { return m.Status().State }

// Connected reports whether trading calls may be sent.
func (m *Manager) Connected() bool { return m.State() == Connected }

// Transport exposes the host binding for request/response calls.
func (m *Manager) Transport() transport.Transport { return m.tr }

// Connect starts a connection attempt. It returns once the attempt is under way;
// progress is reported through state changes.
func (m *Manager) Connect(ctx context.Context) error {
	var err error
	if callErr := m.loop.Call(ctx, func() {
		if m.state != Disconnected && m.state != Failed {
			err = ErrAlreadyActive
			return
		}
		m.attempts = 0
		m.doConnect()
	}); callErr != nil {
		return callErr
	}
	return err
}

// Disconnect tears the connection down and cancels pending reconnects and the heartbeat.
func (m *Manager) Disconnect(ctx context.Context) error {
	var err error
	if callErr := m.loop.Call(ctx, func() {
		m.epoch++
		m.cancelTimer()
		m.stopHeartbeat()
		m.attempts = 0
		wasActive := m.state != Disconnected
		m.setState(Disconnected, nil)
		if wasActive {
			err = m.tr.Disconnect()
		}
	}); callErr != nil {
		return callErr
	}
	return err
}

// SetActiveSymbol remembers the symbol to resubscribe after a reconnect.
func (m *Manager) SetActiveSymbol(symbol string) {
	m.loop.Post(func() { m.lastSymbol = symbol })
}

// Subscribe adds interest in symbol. The host is asked only for the first
// consumer and only while connected; other symbols are sent on the next handshake.
func (m *Manager) Subscribe(ctx context.Context, symbol string) error {
	var first, connected bool
	if err := m.loop.Call(ctx, func() {
		m.refs[symbol]++
		first = m.refs[symbol] == 1
		connected = m.state == Connected
	}); err != nil {
		return err
	}
	if !first || !connected {
		return nil
	}
	if err := m.tr.SubscribeQuotes(ctx, []string{symbol}); err != nil {
		err = transport.Wrap("subscribe", err)
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("subscribe failed")
		m.loop.Post(func() { m.release(symbol) })
		return err
	}
	return nil
}

// Unsubscribe drops one consumer of symbol. Unsubscribing a symbol with no
// consumers is a no-op.
func (m *Manager) Unsubscribe(ctx context.Context, symbol string) error {
	var last, connected bool
	if err := m.loop.Call(ctx, func() {
		last = m.release(symbol)
		connected = m.state == Connected
	}); err != nil {
		return err
	}
	if !last || !connected {
		return nil
	}
	if err := m.tr.UnsubscribeQuotes(ctx, []string{symbol}); err != nil {
		err = transport.Wrap("unsubscribe", err)
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("unsubscribe failed")
		return err
	}
	return nil
}

// release decrements the refcount and reports whether it reached zero.
func (m *Manager) release(symbol string) bool {
	n, ok := m.refs[symbol]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(m.refs, symbol)
		return true
	}
	m.refs[symbol] = n - 1
	return false
}

// Subscriptions lists symbols with at least one consumer.
func (m *Manager) Subscriptions(ctx context.Context) ([]string, error) {
	var out []string
	err := m.loop.Call(ctx, func() {
		for s := range m.refs {
			out = append(out, s)
		}
	})
	sort.Strings(out)
	return out, err
}

func (m *Manager) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventOpened:
		m.log.Debug().Msg("transport channel opened")
	case transport.EventClosed:
		if m.state != Connected {
			return
		}
		err := ev.Err
		if err == nil {
			err = transport.ErrClosed
		}
		m.log.Warn().Err(err).Msg("host closed the connection")
		m.onLost(transport.Wrap("read", err))
	case transport.EventQuote, transport.EventExecution, transport.EventAccount:
		if m.state != Connected && m.state != Handshaking {
			return
		}
		m.dispatchData(ev)
	}
}

// dispatchData hands host data to the owning handlers.
func (m *Manager) dispatchData(ev transport.Event) {
	switch ev.Kind {
	case transport.EventQuote:
		if m.handlers.OnQuote != nil {
			m.handlers.OnQuote(ev.Quote)
		}
	case transport.EventExecution:
		if m.handlers.OnExecution != nil {
			m.handlers.OnExecution(ev.Execution)
		}
	case transport.EventAccount:
		if m.handlers.OnAccount != nil {
			m.handlers.OnAccount(ev.Account)
		}
	}
}

func (m *Manager) doConnect() {
	m.epoch++
	epoch := m.epoch
	m.setState(Connecting, nil)

	go func() {
		ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.ConnectTimeout)
		defer cancel()
		if err := m.tr.Connect(ctx); err != nil {
			err = transport.Wrap("connect", err)
			m.loop.Post(func() {
				if m.stale(epoch, Connecting) {
					return
				}
				m.log.Warn().Err(err).Msg("connect failed")
				m.onLost(err)
			})
			return
		}
		m.loop.Post(func() { m.opened(epoch) })
	}()
}

// abandon closes a channel opened by an attempt that lost to a manual
// disconnect. A newer attempt owns the transport and is left alone.
func (m *Manager) abandon(stage string) {
	if m.state != Disconnected && m.state != Failed {
		return
	}
	m.log.Debug().Str("stage", stage).Msg("closing superseded connection attempt")
	if err := m.tr.Disconnect(); err != nil {
		m.log.Debug().Err(err).Msg("disconnect superseded attempt")
	}
}

func (m *Manager) opened(epoch uint64) {
	if m.stale(epoch, Connecting) {
		m.abandon("connect")
		return
	}
	m.setState(Handshaking, nil)

	go func() {
		var reg transport.Registration
		var err error
		if m.reg != nil {
			reg, err = m.reg.Registration()
		}
		if err == nil {
			ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.ConnectTimeout)
			err = m.tr.Handshake(ctx, reg)
			cancel()
		}
		m.loop.Post(func() { m.handshakeDone(epoch, err) })
	}()
}

func (m *Manager) handshakeDone(epoch uint64, err error) {
	if m.stale(epoch, Handshaking) {
		m.abandon("handshake")
		return
	}
	if err != nil {
		err = transport.Wrap("handshake", err)
		m.log.Warn().Err(err).Msg("handshake failed")
		if derr := m.tr.Disconnect(); derr != nil {
			m.log.Debug().Err(derr).Msg("disconnect after failed handshake")
		}
		m.onLost(err)
		return
	}

	m.attempts = 0
	m.setState(Connected, nil)
	m.startHeartbeat(epoch)

	symbols := m.resubscribeSet()
	go m.initialLoad(epoch, symbols)
}

func (m *Manager) resubscribeSet() []string {
	set := make(map[string]struct{}, len(m.refs)+1)
	for s := range m.refs {
		set[s] = struct{}{}
	}
	if m.lastSymbol != "" {
		set[m.lastSymbol] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// initialLoad fetches account, positions and symbols after a handshake and
// resubscribes quotes. Results are applied on the loop if the session is still current.
func (m *Manager) initialLoad(epoch uint64, symbols []string) {
	ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.ConnectTimeout)
	defer cancel()

	if acc, err := m.tr.GetAccount(ctx); err != nil {
		m.log.Warn().Err(err).Msg("initial account load failed")
	} else if m.handlers.OnAccount != nil {
		m.postCurrent(epoch, func() { m.handlers.OnAccount(acc) })
	}
	if pos, err := m.tr.GetPositions(ctx); err != nil {
		m.log.Warn().Err(err).Msg("initial positions load failed")
	} else if m.handlers.OnPositions != nil {
		m.postCurrent(epoch, func() { m.handlers.OnPositions(pos) })
	}
	if syms, err := m.tr.GetSymbols(ctx); err != nil {
		m.log.Warn().Err(err).Msg("initial symbols load failed")
	} else if m.handlers.OnSymbols != nil {
		m.postCurrent(epoch, func() { m.handlers.OnSymbols(syms) })
	}
	if len(symbols) > 0 {
		if err := m.tr.SubscribeQuotes(ctx, symbols); err != nil {
			m.log.Warn().Err(err).Strs("symbols", symbols).Msg("resubscribe failed")
		}
	}
}

func (m *Manager) postCurrent(epoch uint64, fn func()) {
	m.loop.Post(func() {
		if epoch != m.epoch || m.state != Connected {
			return
		}
		fn()
	})
}

// onLost is the single failure path: it counts the attempt and either
// schedules a reconnect or gives up.
func (m *Manager) onLost(err error) {
	m.stopHeartbeat()
	m.attempts++
	m.setState(Reconnecting, err)
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.log.Error().Err(err).Int("attempt", m.attempts).Msg("reconnect attempts exhausted")
		m.setState(Failed, err)
		return
	}

	delay := Backoff(m.cfg.ReconnectInterval, m.cfg.MaxReconnectDelay, m.attempts)
	epoch := m.epoch
	m.metrics.ReconnectScheduled()
	m.log.Info().Int("attempt", m.attempts).Dur("delay", delay).Msg("reconnect scheduled")
	m.cancelTimer()
	m.timer = time.AfterFunc(delay, func() {
		m.loop.Post(func() {
			if m.stale(epoch, Reconnecting) {
				return
			}
			m.timer = nil
			m.doConnect()
		})
	})
}

func (m *Manager) stale(epoch uint64, want State) bool {
	return epoch != m.epoch || m.state != want
}

func (m *Manager) startHeartbeat(epoch uint64) {
	m.stopHeartbeat()
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(m.runCtx)
	m.hbCancel = cancel
	interval := m.cfg.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pctx, pcancel := context.WithTimeout(ctx, interval)
				err := m.tr.Ping(pctx)
				pcancel()
				if err != nil && ctx.Err() == nil {
					// soft failure: only a closed event drives reconnection
					m.metrics.HeartbeatFailed()
					m.log.Warn().Err(transport.Wrap("ping", err)).Uint64("epoch", epoch).Msg("heartbeat failed")
				}
			}
		}
	}()
}

func (m *Manager) stopHeartbeat() {
	if m.hbCancel != nil {
		m.hbCancel()
		m.hbCancel = nil
	}
}

func (m *Manager) cancelTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setState(s State, err error) {
	prev := m.state
	m.state = s

	st := Status{State: s, StateName: s.String(), Attempts: m.attempts}
	if err != nil {
		st.LastError = err.Error()
	}
	m.mu.Lock()
	m.mirror = st
	m.mu.Unlock()

	m.metrics.SetConnectionState(int(s))
	if prev != s {
		m.log.Info().Str("state", s.String()).Str("from", prev.String()).Int("attempt", m.attempts).Msg("connection state changed")
	}
	if m.bus != nil {
		m.bus.Connection.Publish(events.ConnectionStatus{
			State:   st.StateName,
			Attempt: st.Attempts,
			Error:   st.LastError,
			At:      m.now(),
		})
	}
}
