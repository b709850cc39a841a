package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/balance"
	"trading-assistant/internal/chart"
	"trading-assistant/internal/connection"
	"trading-assistant/internal/events"
	"trading-assistant/internal/indicators"
	"trading-assistant/internal/market"
	"trading-assistant/internal/monitor"
	"trading-assistant/internal/order"
	"trading-assistant/internal/performance"
	"trading-assistant/internal/persistence"
	"trading-assistant/internal/risk"
	"trading-assistant/internal/state"
	"trading-assistant/internal/transport"
	"trading-assistant/internal/transport/sim"
	"trading-assistant/internal/transport/wsclient"
	"trading-assistant/pkg/config"
	"trading-assistant/pkg/db"
	"trading-assistant/pkg/license"
)

const (
	journalBatchSize     = 50
	journalFlushInterval = time.Second
	dispatcherWorkers    = 2
)

// Impl implements Service by composing the core modules. It is the single
// owner of their lifecycle.
type Impl struct {
	cfg config.Config
	log zerolog.Logger

	loop       *Loop
	bus        *events.Bus
	metrics    *monitor.Metrics
	tr         transport.Transport
	conn       *connection.Manager
	registrar  *license.Registrar
	chart      *chart.State
	indicators *indicators.Engine
	stream     *market.Stream
	catalog    *market.Catalog
	registry   *state.Registry
	refresher  *state.Refresher
	balance    *balance.Manager
	risk       *risk.Manager
	tracker    *performance.Tracker
	journal    *persistence.JournalWriter
	database   *db.Database
	ownsDB     bool
	broker     *order.Broker
	executor   *order.Executor
	dispatcher *order.Dispatcher
	redrawer   *chart.Redrawer
	monitor    *monitor.Monitor

	chartMu  sync.Mutex
	chartSub string

	meta SystemStatus
}

// Options carries collaborators that override the configuration.
type Options struct {
	Version string
	Log     zerolog.Logger
	// Transport replaces the binding selected by cfg.Transport.Kind.
	Transport transport.Transport
	// Database replaces the journal opened from cfg.Storage.DBPath.
	Database *db.Database
	Metrics  *monitor.Metrics
}

// New builds every module from cfg. Nothing runs until Start.
func New(cfg config.Config, opts Options) (*Impl, error) {
	log := opts.Log
	e := &Impl{
		cfg:     cfg,
		log:     log.With().Str("component", "engine").Logger(),
		loop:    NewLoop(4096, log.With().Str("component", "loop").Logger()),
		bus:     events.NewBus(),
		metrics: opts.Metrics,
	}
	if e.metrics == nil {
		e.metrics = monitor.NewMetrics()
	}

	e.tr = opts.Transport
	if e.tr == nil {
		tr, err := newTransport(cfg, log)
		if err != nil {
			return nil, err
		}
		e.tr = tr
	}

	specs := make([]indicators.Spec, 0, len(cfg.Indicators))
	for _, s := range cfg.Indicators {
		specs = append(specs, indicators.Spec{Name: s.Name, Kind: strings.ToLower(s.Kind), Period: s.Period, K: s.K})
	}
	ind, err := indicators.NewEngine(specs)
	if err != nil {
		return nil, fmt.Errorf("indicators: %w", err)
	}
	e.indicators = ind

	e.chart = chart.NewState(cfg.Chart.MaxPoints)
	e.chart.Reset(cfg.Chart.DefaultSymbol, cfg.Chart.DefaultTimeframe)
	e.redrawer = chart.NewRedrawer(e.chart, cfg.Chart.RedrawInterval(), e.render)
	e.catalog = market.NewCatalog()
	e.stream = market.NewStream(market.StreamConfig{
		Chart:      e.chart,
		Indicators: e.indicators,
		Bus:        e.bus,
		Metrics:    e.metrics,
		Log:        log,
	})

	ready := func() bool { return e.conn != nil && e.conn.Connected() }
	e.registry = state.NewRegistry(e.bus, log)
	e.refresher = state.NewRefresher(e.tr, e.registry, cfg.Connection.RefreshTimeout(), ready, log)
	e.balance = balance.NewManager(e.tr, cfg.Connection.HeartbeatInterval(), ready, e.bus, log)

	t := cfg.Trading
	limits := risk.Limits{
		MaxPositions:       t.MaxPositions,
		MaxRiskPercent:     t.MaxRiskPercent,
		DefaultRiskPercent: t.DefaultRiskPercent,
		Leverage:           t.Leverage,
		ContractSize:       t.ContractSize,
		MinVolume:          t.MinVolume,
		MaxVolume:          t.MaxVolume,
		VolumeStep:         t.VolumeStep,
	}
	e.risk = risk.NewInMemory(limits)

	e.database = opts.Database
	if e.database == nil && cfg.Storage.DBPath != "" {
		d, err := db.New(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		e.database = d
		e.ownsDB = true
	}
	var journal performance.Journal
	if e.database != nil {
		if err := db.ApplyMigrations(e.database); err != nil {
			e.closeDB()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
		e.journal = persistence.NewJournalWriter(e.database, journalBatchSize, journalFlushInterval, log)
		journal = e.journal
	}
	e.tracker = performance.NewTracker(journal, log)

	var confirmer order.Confirmer = order.AutoConfirm{Approve: true}
	if !t.AutoConfirm {
		e.broker = order.NewBroker(e.bus, t.ConfirmTimeout(), log)
		confirmer = e.broker
	}

	e.registrar = license.NewRegistrar(cfg.Transport.TokenSecret, cfg.Transport.ClientName, opts.Version)
	cc := cfg.Connection
	e.conn = connection.NewManager(e.tr, e.loop, connection.Config{
		ConnectTimeout:       cc.ConnectTimeout(),
		ReconnectInterval:    cc.ReconnectInterval(),
		MaxReconnectDelay:    cc.MaxReconnectDelay(),
		MaxReconnectAttempts: cc.MaxReconnectAttempts,
		HeartbeatInterval:    cc.HeartbeatInterval(),
	}, connection.Options{
		Registrar: e.registrar,
		Handlers:  e.handlers(),
		Bus:       e.bus,
		Metrics:   e.metrics,
		Log:       log,
	})

	e.executor = order.NewExecutor(order.Config{
		DefaultVolume:          t.DefaultVolume,
		ConfirmVolumeThreshold: t.ConfirmVolumeThreshold,
		OrdersPerSecond:        t.OrdersPerSecond,
	}, order.Deps{
		Link:      e.conn,
		Quotes:    e.stream,
		Account:   e.balance,
		Symbols:   e.catalog,
		Positions: e.registry,
		Risk:      e.risk,
		Confirmer: confirmer,
		Recorder:  e.tracker,
		Bus:       e.bus,
		Metrics:   e.metrics,
		Log:       log,
	})
	e.dispatcher = order.NewDispatcher(e.executor, dispatcherWorkers, log)

	e.monitor = &monitor.Monitor{
		Bus:     e.bus,
		Metrics: e.metrics,
		Sink:    monitor.LogSink{Log: log},
		Log:     log.With().Str("component", "monitor").Logger(),
	}

	e.meta = SystemStatus{
		Version:   opts.Version,
		Transport: cfg.Transport.Kind,
		ClientID:  e.registrar.ClientID(),
	}
	return e, nil
}

func newTransport(cfg config.Config, log zerolog.Logger) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "ws":
		return wsclient.New(cfg.Transport.URL, log), nil
	case "sim":
		return sim.New(sim.Config{
			TickInterval:   cfg.Sim.TickInterval(),
			InitialBalance: cfg.Sim.InitialBalance,
			SlippageBps:    cfg.Sim.SlippageBps,
			Leverage:       cfg.Trading.Leverage,
			Secret:         cfg.Transport.TokenSecret,
		}, log), nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
}

// handlers route host data into the owning modules. They run on the loop.
func (e *Impl) handlers() connection.Handlers {
	return connection.Handlers{
		OnQuote: func(q transport.Quote) { e.stream.OnQuote(q) },
		OnExecution: func(ev transport.ExecutionEvent) {
			e.registry.Apply(ev)
			e.refresher.Trigger()
		},
		OnAccount: e.balance.Replace,
		OnPositions: func(list []transport.Position) {
			e.registry.ResetSequence()
			e.registry.Reload(list)
		},
		OnSymbols: func(list []transport.SymbolInfo) {
			e.catalog.Replace(list)
			if e.chart.Len(chart.SeriesPrice) == 0 {
				go e.loadHistory()
			}
		},
	}
}

// Start runs the loop and background workers until ctx is done. The trade
// journal is replayed before anything can record.
func (e *Impl) Start(ctx context.Context) {
	if err := e.tracker.Restore(ctx); err != nil {
		e.log.Warn().Err(err).Msg("trade journal not restored")
	}
	go e.loop.Run(ctx)
	e.conn.Start(ctx)
	e.balance.Start(ctx)
	e.monitor.Start(ctx)
	go e.redrawer.Run(ctx)

	symbol, _ := e.chart.Active()
	if symbol != "" {
		e.conn.SetActiveSymbol(symbol)
		if err := e.conn.Subscribe(ctx, symbol); err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("chart subscribe failed")
		} else {
			e.chartMu.Lock()
			e.chartSub = symbol
			e.chartMu.Unlock()
		}
	}
	e.meta.StartedAt = time.Now().UTC()
	e.log.Info().Str("transport", e.meta.Transport).Str("client_id", e.meta.ClientID).Msg("engine started")
}

// Close disconnects and flushes the journal. It must run before the Start
// context is cancelled so the loop can process the disconnect.
func (e *Impl) Close(ctx context.Context) error {
	if err := e.conn.Disconnect(ctx); err != nil {
		e.log.Warn().Err(err).Msg("disconnect on shutdown")
	}
	e.dispatcher.Close()
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			e.log.Error().Err(err).Msg("journal flush on shutdown")
		}
	}
	return e.closeDB()
}

func (e *Impl) closeDB() error {
	if !e.ownsDB {
		return nil
	}
	return e.database.Close()
}

// Metrics exposes the Prometheus collectors for the /metrics endpoint.
func (e *Impl) Metrics() *monitor.Metrics { return e.metrics }

// render re-derives every overlay from the price series and publishes the chart.
func (e *Impl) render(snap chart.Snapshot) {
	overlays := indicators.Compute(e.indicators.Specs(), snap.Series[chart.SeriesPrice])
	for name, pts := range overlays {
		if err := e.chart.ReplaceSeries(name, pts); err != nil {
			e.log.Warn().Err(err).Str("series", name).Msg("overlay not replaced")
		}
	}
	e.bus.Chart.Publish(events.ChartUpdate{Snapshot: e.chart.Snapshot()})
}

func (e *Impl) history() transport.HistorySource {
	if !e.conn.Connected() {
		return nil
	}
	hs, _ := e.tr.(transport.HistorySource)
	return hs
}

func (e *Impl) loadHistory() {
	symbol, timeframe := e.chart.Active()
	hs := e.history()
	if symbol == "" || hs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Connection.RefreshTimeout())
	defer cancel()
	if err := e.chart.LoadHistory(ctx, symbol, timeframe, hs); err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("chart history not loaded")
	}
}

// --- Connection ---

func (e *Impl) Connect(ctx context.Context) error { return e.conn.Connect(ctx) }

func (e *Impl) Disconnect(ctx context.Context) error { return e.conn.Disconnect(ctx) }

func (e *Impl) Subscribe(ctx context.Context, symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	return e.conn.Subscribe(ctx, symbol)
}

func (e *Impl) Unsubscribe(ctx context.Context, symbol string) error {
	if err := e.conn.Unsubscribe(ctx, symbol); err != nil {
		return err
	}
	e.stream.Forget(symbol)
	return nil
}

// --- Market data ---

func (e *Impl) Quotes() []transport.Quote { return e.stream.Snapshot() }

func (e *Impl) Quote(symbol string) (transport.Quote, bool) { return e.stream.Latest(symbol) }

func (e *Impl) Symbols() []transport.SymbolInfo { return e.catalog.List() }

// SelectChart switches the active chart, moves the chart's quote
// subscription and reloads history.
func (e *Impl) SelectChart(ctx context.Context, symbol, timeframe string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if e.catalog.Len() > 0 {
		if _, ok := e.catalog.Get(symbol); !ok {
			return fmt.Errorf("unknown symbol %s", symbol)
		}
	}
	if timeframe == "" {
		timeframe = e.cfg.Chart.DefaultTimeframe
	}
	if _, err := transport.ParseTimeframe(timeframe); err != nil {
		return err
	}

	e.chartMu.Lock()
	defer e.chartMu.Unlock()
	if e.chartSub != symbol {
		if err := e.conn.Subscribe(ctx, symbol); err != nil {
			return err
		}
		if e.chartSub != "" {
			if err := e.conn.Unsubscribe(ctx, e.chartSub); err != nil {
				e.log.Warn().Err(err).Str("symbol", e.chartSub).Msg("previous chart symbol not unsubscribed")
			} else {
				e.stream.Forget(e.chartSub)
			}
		}
		e.chartSub = symbol
	}
	e.conn.SetActiveSymbol(symbol)
	return e.chart.SetActive(ctx, symbol, timeframe, e.history())
}

func (e *Impl) Chart() chart.Snapshot { return e.chart.Snapshot() }

func (e *Impl) Indicators(symbol string) map[string]float64 { return e.stream.Indicators(symbol) }

// --- Account & positions ---

func (e *Impl) Account() transport.AccountSnapshot { return e.balance.Snapshot() }

func (e *Impl) Positions() []transport.Position { return e.registry.List() }

// --- Trading ---

func (e *Impl) PlaceOrder(ctx context.Context, side transport.Side, p order.Params) (order.Result, error) {
	return e.executor.Execute(ctx, side, p)
}

func (e *Impl) SubmitOrder(ctx context.Context, side transport.Side, p order.Params) error {
	return e.dispatcher.Submit(ctx, side, p)
}

func (e *Impl) SuggestVolume(symbol string, side transport.Side, stopLoss, riskPercent float64) (float64, error) {
	return e.executor.SuggestVolume(symbol, side, stopLoss, riskPercent)
}

func (e *Impl) ClosePosition(ctx context.Context, id string, volume float64) (order.CloseOutcome, error) {
	return e.executor.ClosePosition(ctx, id, volume)
}

func (e *Impl) ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit *float64) error {
	return e.executor.ModifyPosition(ctx, id, stopLoss, takeProfit)
}

func (e *Impl) CloseAll(ctx context.Context, f CloseFilter) state.BatchResult {
	return e.executor.CloseAll(ctx, f.match)
}

func (e *Impl) Confirmations() []events.ConfirmationRequest {
	if e.broker == nil {
		return nil
	}
	return e.broker.Pending()
}

func (e *Impl) ResolveConfirmation(id string, approve bool) error {
	if e.broker == nil {
		return order.ErrUnknownConfirmation
	}
	return e.broker.Resolve(id, approve)
}

// --- Risk & performance ---

func (e *Impl) RiskLimits() risk.Limits { return e.risk.GetLimits() }

func (e *Impl) RiskMetrics() risk.Metrics { return e.risk.GetMetrics() }

func (e *Impl) Performance() PerformanceReport { return newPerformanceReport(e.tracker.Stats()) }

func (e *Impl) Trades(limit int) []performance.TradeRecord { return e.tracker.Records(limit) }

// --- System ---

func (e *Impl) Status(ctx context.Context) SystemStatus {
	st := e.meta
	st.Connection = e.conn.Status()
	st.ActiveSymbol, st.Timeframe = e.chart.Active()
	if subs, err := e.conn.Subscriptions(ctx); err == nil {
		st.Subscriptions = subs
	}
	st.OpenPositions = e.registry.Count()
	st.PendingOrders = e.dispatcher.Pending()
	st.PendingConfirm = len(e.Confirmations())
	if e.journal != nil {
		st.JournalPending = e.journal.Pending()
	}
	st.PositionsRefreshing = e.refresher.Busy()
	st.AccountSyncedAt = e.balance.LastSync()
	st.Runtime = e.metrics.GetSnapshot()
	st.DroppedEvents = make(map[string]uint64)
	for topic, n := range e.bus.Dropped() {
		st.DroppedEvents[string(topic)] = n
	}
	if !st.StartedAt.IsZero() {
		st.Uptime = time.Since(st.StartedAt).Truncate(time.Second).String()
	}
	return st
}

func (e *Impl) Bus() *events.Bus { return e.bus }

var _ Service = (*Impl)(nil)
