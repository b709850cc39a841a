package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/events"
)

// AlertSink is a pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to a logger.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Send(message string) error {
	s.Log.Warn().Str("alert", message).Msg("alert")
	return nil
}

// Monitor watches the outbound bus, keeps trade and drop metrics current and
// raises alerts when the connection gives up.
type Monitor struct {
	Bus          *events.Bus
	Metrics      *Metrics
	Sink         AlertSink
	Log          zerolog.Logger
	PollInterval time.Duration
}

// Start subscribes to the bus and returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		m.Log.Warn().Msg("monitor not fully configured; skipping")
		return
	}
	conn, unsubConn := m.Bus.Connection.Subscribe(50)
	trades, unsubTrades := m.Bus.Trades.Subscribe(100)
	interval := m.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		defer unsubConn()
		defer unsubTrades()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-conn:
				if !ok {
					return
				}
				m.onConnection(st)
			case tr, ok := <-trades:
				if !ok {
					return
				}
				m.Metrics.TradeAttempt(tr.Action, Outcome(tr))
			case <-ticker.C:
				for topic, n := range m.Bus.Dropped() {
					m.Metrics.SetDropped(string(topic), n)
				}
			}
		}
	}()
}

func (m *Monitor) onConnection(st events.ConnectionStatus) {
	if st.State != "failed" || m.Sink == nil {
		return
	}
	msg := formatAlert(st.At, fmt.Sprintf("connection failed after %d attempts: %s", st.Attempt, st.Error))
	if err := m.Sink.Send(msg); err != nil {
		m.Log.Error().Err(err).Msg("alert delivery failed")
	}
}

// Outcome classifies a trade result for metrics labels.
func Outcome(tr events.TradeResult) string {
	switch {
	case tr.Success:
		return "success"
	case tr.Reason == "cancelled by user":
		return "cancelled"
	default:
		return "failed"
	}
}

func formatAlert(at time.Time, msg string) string {
	return "[" + at.Format(time.RFC3339) + "] " + msg
}
