package connection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/events"
	"trading-assistant/internal/transport"
	"trading-assistant/internal/transport/transporttest"
)

// testLoop is a minimal sequencer satisfying Poster.
type testLoop struct {
	inbox chan func()
}

func newTestLoop(t *testing.T) *testLoop {
	l := &testLoop{inbox: make(chan func(), 256)}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-l.inbox:
				fn()
			}
		}
	}()
	return l
}

func (l *testLoop) Post(fn func()) bool { l.inbox <- fn; return true }

func (l *testLoop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.inbox <- func() { fn(); close(done) }
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type staticRegistrar struct{ reg transport.Registration }

func (s staticRegistrar) Registration() (transport.Registration, error) { return s.reg, nil }

func testConfig() Config {
	return Config{
		ConnectTimeout:       200 * time.Millisecond,
		ReconnectInterval:    time.Millisecond,
		MaxReconnectDelay:    5 * time.Millisecond,
		MaxReconnectAttempts: 3,
		HeartbeatInterval:    time.Hour,
	}
}

func newManager(t *testing.T, fake *transporttest.Fake, cfg Config, h Handlers) (*Manager, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	m := NewManager(fake, newTestLoop(t), cfg, Options{
		Registrar: staticRegistrar{transport.Registration{ClientID: "client-1", Name: "test"}},
		Handlers:  h,
		Bus:       bus,
		Log:       zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)
	return m, bus
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectHandshakeAndInitialLoad(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Account = transport.AccountSnapshot{Balance: 1000, FreeMargin: 900}
	fake.Positions = []transport.Position{{ID: "p1", Symbol: "EURUSD", Side: transport.SideBuy, Volume: 0.1}}
	fake.Symbols = []transport.SymbolInfo{{Name: "EURUSD"}}

	var mu sync.Mutex
	var gotAccount transport.AccountSnapshot
	var gotPositions []transport.Position
	var gotSymbols []transport.SymbolInfo
	m, bus := newManager(t, fake, testConfig(), Handlers{
		OnAccount:   func(a transport.AccountSnapshot) { mu.Lock(); gotAccount = a; mu.Unlock() },
		OnPositions: func(p []transport.Position) { mu.Lock(); gotPositions = p; mu.Unlock() },
		OnSymbols:   func(s []transport.SymbolInfo) { mu.Lock(); gotSymbols = s; mu.Unlock() },
	})
	statuses, unsub := bus.Connection.Subscribe(16)
	defer unsub()

	if err := m.Subscribe(context.Background(), "GBPUSD"); err != nil {
		t.Fatalf("Subscribe while disconnected: %v", err)
	}
	m.SetActiveSymbol("EURUSD")
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "connected", m.Connected)
	waitFor(t, "initial load", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotSymbols != nil && gotPositions != nil && gotAccount.Balance == 1000
	})
	waitFor(t, "resubscribe", func() bool { return fake.Calls("subscribe") == 1 })

	fake.Emit(transport.Event{Kind: transport.EventOpened})
	if err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Connect: %v", err)
	}

	var seen []string
	for len(seen) < 3 {
		select {
		case st := <-statuses:
			seen = append(seen, st.State)
		case <-time.After(time.Second):
			t.Fatalf("states so far %v", seen)
		}
	}
	want := []string{"connecting", "handshaking", "connected"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("states=%v, expected %v", seen, want)
		}
	}
	if fake.Registration.ClientID != "client-1" {
		t.Fatalf("registration not sent: %+v", fake.Registration)
	}
}

func TestResubscribesActiveAndSubscribedSymbols(t *testing.T) {
	fake := transporttest.NewFake()
	m, _ := newManager(t, fake, testConfig(), Handlers{})

	_ = m.Subscribe(context.Background(), "USDJPY")
	m.SetActiveSymbol("EURUSD")
	_ = m.Connect(context.Background())
	waitFor(t, "resubscribe", func() bool { return fake.Calls("subscribe") == 1 })

	got := strings.Join(fake.Subscribed, ",")
	if got != "EURUSD,USDJPY" {
		t.Fatalf("subscribed=%s", got)
	}
}

func TestFailedAfterMaxConsecutiveDisconnects(t *testing.T) {
	fake := transporttest.NewFake()
	cfg := testConfig()
	m, _ := newManager(t, fake, cfg, Handlers{})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "connected", m.Connected)

	// every reconnect from here on is refused by the host
	fake.OnConnect = func(ctx context.Context) error { return errors.New("connection refused") }
	fake.Emit(transport.Event{Kind: transport.EventClosed, Err: errors.New("eof")})

	waitFor(t, "failed", func() bool { return m.State() == Failed })
	// 1 close event + (max-1) failed reconnects
	if got := fake.Calls("connect"); got != cfg.MaxReconnectAttempts {
		t.Fatalf("connect calls=%d, expected %d", got, cfg.MaxReconnectAttempts)
	}
	if st := m.Status(); st.Attempts != cfg.MaxReconnectAttempts {
		t.Fatalf("attempts=%d", st.Attempts)
	}

	time.Sleep(30 * time.Millisecond)
	if got := fake.Calls("connect"); got != cfg.MaxReconnectAttempts {
		t.Fatalf("reconnect attempted after Failed: %d calls", got)
	}

	fake.OnConnect = nil
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("manual Connect from Failed: %v", err)
	}
	waitFor(t, "connected again", m.Connected)
}

func TestHeartbeatFailureIsSoft(t *testing.T) {
	fake := transporttest.NewFake()
	fake.PingErr = errors.New("pong lost")
	cfg := testConfig()
	cfg.HeartbeatInterval = 2 * time.Millisecond
	m, _ := newManager(t, fake, cfg, Handlers{})

	_ = m.Connect(context.Background())
	waitFor(t, "connected", m.Connected)
	waitFor(t, "pings", func() bool { return fake.Calls("ping") >= 3 })
	if m.State() != Connected {
		t.Fatalf("state=%s after failed pings", m.State())
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	fake := transporttest.NewFake()
	fake.ConnectErr = errors.New("refused")
	cfg := testConfig()
	cfg.ReconnectInterval = 50 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	m, _ := newManager(t, fake, cfg, Handlers{})

	_ = m.Connect(context.Background())
	waitFor(t, "reconnecting", func() bool { return m.State() == Reconnecting })
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if got := fake.Calls("connect"); got != 1 {
		t.Fatalf("connect calls=%d after manual disconnect, expected 1", got)
	}
	if m.State() != Disconnected {
		t.Fatalf("state=%s", m.State())
	}
}

func TestDisconnectStopsHeartbeat(t *testing.T) {
	fake := transporttest.NewFake()
	cfg := testConfig()
	cfg.HeartbeatInterval = 2 * time.Millisecond
	m, _ := newManager(t, fake, cfg, Handlers{})

	_ = m.Connect(context.Background())
	waitFor(t, "pings", func() bool { return fake.Calls("ping") >= 1 })
	_ = m.Disconnect(context.Background())
	time.Sleep(5 * time.Millisecond)
	before := fake.Calls("ping")
	time.Sleep(20 * time.Millisecond)
	if after := fake.Calls("ping"); after != before {
		t.Fatalf("heartbeat still running: %d → %d", before, after)
	}
	if fake.Calls("disconnect") != 1 {
		t.Fatalf("transport disconnect calls=%d", fake.Calls("disconnect"))
	}
}

func TestHandshakeFailureReconnects(t *testing.T) {
	fake := transporttest.NewFake()
	fake.HandshakeErr = &transport.Rejected{Reason: "bad token"}
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 1
	m, _ := newManager(t, fake, cfg, Handlers{})

	_ = m.Connect(context.Background())
	waitFor(t, "failed", func() bool { return m.State() == Failed })
	if fake.Calls("disconnect") != 1 {
		t.Fatalf("expected channel to be closed after failed handshake")
	}
	if !strings.Contains(m.Status().LastError, "bad token") {
		t.Fatalf("last error=%q", m.Status().LastError)
	}
}

func TestConnectTimeoutIsTransportError(t *testing.T) {
	fake := transporttest.NewFake()
	fake.OnConnect = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	cfg := testConfig()
	cfg.ConnectTimeout = 10 * time.Millisecond
	cfg.MaxReconnectAttempts = 1
	m, _ := newManager(t, fake, cfg, Handlers{})

	_ = m.Connect(context.Background())
	waitFor(t, "failed", func() bool { return m.State() == Failed })
	if !strings.Contains(m.Status().LastError, "timeout") {
		t.Fatalf("last error=%q, expected timeout", m.Status().LastError)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	fake := transporttest.NewFake()
	m, _ := newManager(t, fake, testConfig(), Handlers{})
	_ = m.Connect(context.Background())
	waitFor(t, "connected", m.Connected)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := m.Subscribe(ctx, "EURUSD"); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := m.Unsubscribe(ctx, "EURUSD"); err != nil {
			t.Fatalf("Unsubscribe #%d: %v", i, err)
		}
	}
	if got := fake.Calls("unsubscribe"); got != 1 {
		t.Fatalf("transport unsubscribe calls=%d, expected 1", got)
	}
	subs, _ := m.Subscriptions(ctx)
	if len(subs) != 0 {
		t.Fatalf("subscriptions=%v", subs)
	}
}

func TestSubscribeFailureKeepsState(t *testing.T) {
	fake := transporttest.NewFake()
	m, _ := newManager(t, fake, testConfig(), Handlers{})
	_ = m.Connect(context.Background())
	waitFor(t, "connected", m.Connected)
	waitFor(t, "initial load", func() bool { return fake.Calls("symbols") == 1 })

	fake.SubscribeErr = errors.New("unknown symbol")
	err := m.Subscribe(context.Background(), "XXXYYY")
	if !transport.IsTransport(err) {
		t.Fatalf("err=%v, expected transport error", err)
	}
	if m.State() != Connected {
		t.Fatalf("subscribe failure changed state to %s", m.State())
	}
}

func TestClosedEventIgnoredWhenNotConnected(t *testing.T) {
	fake := transporttest.NewFake()
	m, _ := newManager(t, fake, testConfig(), Handlers{})
	fake.Emit(transport.Event{Kind: transport.EventClosed})
	time.Sleep(10 * time.Millisecond)
	if m.State() != Disconnected {
		t.Fatalf("state=%s", m.State())
	}
}

func TestQuoteEventsReachHandlerInOrder(t *testing.T) {
	fake := transporttest.NewFake()
	var mu sync.Mutex
	var bids []float64
	m, _ := newManager(t, fake, testConfig(), Handlers{
		OnQuote: func(q transport.Quote) { mu.Lock(); bids = append(bids, q.Bid); mu.Unlock() },
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "connected", m.Connected)
	for i := 0; i < 50; i++ {
		fake.Emit(transport.Event{Kind: transport.EventQuote, Quote: transport.Quote{Symbol: "EURUSD", Bid: float64(i)}})
	}
	waitFor(t, "quotes", func() bool { mu.Lock(); defer mu.Unlock(); return len(bids) == 50 })
	mu.Lock()
	defer mu.Unlock()
	for i, b := range bids {
		if b != float64(i) {
			t.Fatalf("quote %d out of order: %v", i, b)
		}
	}
}

func TestDisconnectWinsOverConnectInFlight(t *testing.T) {
	fake := transporttest.NewFake()
	release := make(chan struct{})
	entered := make(chan struct{})
	fake.OnConnect = func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	}
	var mu sync.Mutex
	quotes := 0
	m, _ := newManager(t, fake, testConfig(), Handlers{
		OnQuote: func(transport.Quote) { mu.Lock(); quotes++; mu.Unlock() },
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-entered
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	close(release)

	// the late connect success must close the channel it opened
	waitFor(t, "superseded channel closed", func() bool { return fake.Calls("disconnect") == 2 })
	fake.Emit(transport.Event{Kind: transport.EventQuote, Quote: transport.Quote{Symbol: "EURUSD", Bid: 1.1}})
	// a round trip through the loop orders the check after the quote
	if _, err := m.Subscriptions(context.Background()); err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if m.State() != Disconnected {
		t.Fatalf("state=%s, expected disconnected", m.State())
	}
	if fake.Calls("handshake") != 0 {
		t.Fatalf("handshake calls=%d, expected 0", fake.Calls("handshake"))
	}
	mu.Lock()
	defer mu.Unlock()
	if quotes != 0 {
		t.Fatalf("quotes handled=%d while disconnected", quotes)
	}
}

func TestDataEventsDroppedWhileDisconnected(t *testing.T) {
	fake := transporttest.NewFake()
	var mu sync.Mutex
	var seen int
	newManager(t, fake, testConfig(), Handlers{
		OnQuote:     func(transport.Quote) { mu.Lock(); seen++; mu.Unlock() },
		OnExecution: func(transport.ExecutionEvent) { mu.Lock(); seen++; mu.Unlock() },
		OnAccount:   func(transport.AccountSnapshot) { mu.Lock(); seen++; mu.Unlock() },
	})
	fake.Emit(transport.Event{Kind: transport.EventQuote, Quote: transport.Quote{Symbol: "EURUSD"}})
	fake.Emit(transport.Event{Kind: transport.EventExecution})
	fake.Emit(transport.Event{Kind: transport.EventAccount})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if seen != 0 {
		t.Fatalf("handled %d data events while disconnected", seen)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{7, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, time.Minute, tt.attempt); got != tt.want {
			t.Fatalf("Backoff(%d)=%v, expected %v", tt.attempt, got, tt.want)
		}
	}
}
