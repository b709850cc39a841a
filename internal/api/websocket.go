package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trading-assistant/internal/events"
)

const (
	wsBuffer     = 256
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is one frame of the event stream.
type envelope struct {
	Type events.Event `json:"type"`
	Data any          `json:"data"`
}

// websocket streams every bus topic to the client until either side closes.
// Browsers cannot set headers on the upgrade, so the token rides in the query.
func (s *Server) websocket(c *gin.Context) {
	if s.JWTSecret != "" {
		if _, err := parseToken(c.Query("token"), s.JWTSecret); err != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			return
		}
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	bus := s.Engine.Bus()
	connCh, unsubConn := bus.Connection.Subscribe(wsBuffer)
	defer unsubConn()
	quoteCh, unsubQuote := bus.Quotes.Subscribe(wsBuffer)
	defer unsubQuote()
	chartCh, unsubChart := bus.Chart.Subscribe(wsBuffer)
	defer unsubChart()
	posCh, unsubPos := bus.Positions.Subscribe(wsBuffer)
	defer unsubPos()
	accCh, unsubAcc := bus.Account.Subscribe(wsBuffer)
	defer unsubAcc()
	tradeCh, unsubTrade := bus.Trades.Subscribe(wsBuffer)
	defer unsubTrade()
	confirmCh, unsubConfirm := bus.Confirmations.Subscribe(wsBuffer)
	defer unsubConfirm()

	// The read side only exists to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Late joiners get the current state first.
	status := s.Engine.Status(c.Request.Context()).Connection
	initial := []envelope{
		{Type: events.EventConnectionStatus, Data: events.ConnectionStatus{State: status.StateName, Attempt: status.Attempts, Error: status.LastError, At: time.Now()}},
		{Type: events.EventAccountChanged, Data: events.AccountChanged{Account: s.Engine.Account()}},
		{Type: events.EventPositionsChanged, Data: events.PositionsChanged{Positions: s.Engine.Positions()}},
		{Type: events.EventChartReplaced, Data: events.ChartUpdate{Snapshot: s.Engine.Chart()}},
	}
	for _, env := range initial {
		if err := s.writeFrame(conn, env); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		var env envelope
		select {
		case <-closed:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case v := <-connCh:
			env = envelope{Type: events.EventConnectionStatus, Data: v}
		case v := <-quoteCh:
			env = envelope{Type: events.EventQuote, Data: v}
		case v := <-chartCh:
			env = envelope{Type: events.EventChartReplaced, Data: v}
		case v := <-posCh:
			env = envelope{Type: events.EventPositionsChanged, Data: v}
		case v := <-accCh:
			env = envelope{Type: events.EventAccountChanged, Data: v}
		case v := <-tradeCh:
			env = envelope{Type: events.EventTradeResult, Data: v}
		case v := <-confirmCh:
			env = envelope{Type: events.EventConfirmationRequested, Data: v}
		}
		if err := s.writeFrame(conn, env); err != nil {
			s.log.Debug().Err(err).Msg("ws client gone")
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, env envelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(env)
}
