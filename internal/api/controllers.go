package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"trading-assistant/internal/connection"
	"trading-assistant/internal/engine"
	"trading-assistant/internal/order"
	"trading-assistant/internal/risk"
	"trading-assistant/internal/transport"
)

type symbolRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

type chartRequest struct {
	Symbol    string `json:"symbol" binding:"required"`
	Timeframe string `json:"timeframe"`
}

type createOrderRequest struct {
	Side        string  `json:"side" binding:"required,oneof=buy sell"`
	Symbol      string  `json:"symbol" binding:"required"`
	Volume      float64 `json:"volume" binding:"gte=0"`
	StopLoss    float64 `json:"stop_loss" binding:"gte=0"`
	TakeProfit  float64 `json:"take_profit" binding:"gte=0"`
	RiskPercent float64 `json:"risk_percent" binding:"gte=0"`
	// Async queues the order and returns once it passed validation.
	Async bool `json:"async"`
}

type closeRequest struct {
	Volume float64 `json:"volume" binding:"gte=0"`
}

type modifyRequest struct {
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
}

type closeAllRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side" binding:"omitempty,oneof=buy sell"`
}

type resolveRequest struct {
	Approve bool `json:"approve"`
}

type listTradesQuery struct {
	Limit int `form:"limit"`
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondTradeError maps the trade error taxonomy onto HTTP statuses. Every
// failure carries a readable reason.
func respondTradeError(c *gin.Context, err error) {
	var verr *order.ValidationError
	var rej *risk.Rejection
	var xerr *order.ExecutionError
	switch {
	case errors.As(err, &verr):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.As(err, &rej):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":  "RISK_REJECTED",
			"rule":  rej.Rule,
			"error": rej.Reason,
		})
	case errors.Is(err, order.ErrOperationInProgress):
		respondError(c, http.StatusConflict, "OPERATION_IN_PROGRESS", err.Error())
	case errors.Is(err, transport.ErrNotConnected), errors.Is(err, order.ErrDispatcherClosed):
		respondError(c, http.StatusServiceUnavailable, "NOT_CONNECTED", err.Error())
	case errors.As(err, &xerr):
		respondError(c, http.StatusBadGateway, "EXECUTION_FAILED", xerr.Reason)
	case errors.Is(err, order.ErrUnknownConfirmation):
		respondError(c, http.StatusNotFound, "UNKNOWN_CONFIRMATION", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// --- Connection ---

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status(c.Request.Context()))
}

func (s *Server) connect(c *gin.Context) {
	if err := s.Engine.Connect(c.Request.Context()); err != nil {
		if errors.Is(err, connection.ErrAlreadyActive) {
			respondError(c, http.StatusConflict, "ALREADY_ACTIVE", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "connecting"})
}

func (s *Server) disconnect(c *gin.Context) {
	if err := s.Engine.Disconnect(c.Request.Context()); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (s *Server) getSubscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": s.Engine.Status(c.Request.Context()).Subscriptions})
}

func (s *Server) subscribe(c *gin.Context) {
	var req symbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := s.Engine.Subscribe(c.Request.Context(), symbol); err != nil {
		var rj *transport.Rejected
		if errors.As(err, &rj) {
			respondError(c, http.StatusBadRequest, "REJECTED", rj.Reason)
			return
		}
		respondError(c, http.StatusBadGateway, "SUBSCRIBE_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol})
}

func (s *Server) unsubscribe(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if err := s.Engine.Unsubscribe(c.Request.Context(), symbol); err != nil {
		respondError(c, http.StatusBadGateway, "UNSUBSCRIBE_FAILED", err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Market data ---

func (s *Server) getSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Symbols())
}

func (s *Server) getQuotes(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Quotes())
}

func (s *Server) getQuote(c *gin.Context) {
	q, ok := s.Engine.Quote(strings.ToUpper(c.Param("symbol")))
	if !ok {
		respondError(c, http.StatusNotFound, "NO_QUOTE", "no quote for symbol")
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) getChart(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Chart())
}

func (s *Server) selectChart(c *gin.Context) {
	var req chartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := s.Engine.SelectChart(c.Request.Context(), symbol, strings.ToUpper(req.Timeframe)); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_CHART", err.Error())
		return
	}
	c.JSON(http.StatusOK, s.Engine.Chart())
}

func (s *Server) getIndicators(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Indicators(strings.ToUpper(c.Param("symbol"))))
}

// --- Account & positions ---

func (s *Server) getAccount(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Account())
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Positions())
}

func (s *Server) closePosition(c *gin.Context) {
	var req closeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	out, err := s.Engine.ClosePosition(c.Request.Context(), c.Param("id"), req.Volume)
	if err != nil {
		respondTradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) modifyPosition(c *gin.Context) {
	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.StopLoss == nil && req.TakeProfit == nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "stop_loss or take_profit is required")
		return
	}
	if err := s.Engine.ModifyPosition(c.Request.Context(), c.Param("id"), req.StopLoss, req.TakeProfit); err != nil {
		respondTradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "modified"})
}

func (s *Server) closeAll(c *gin.Context) {
	var req closeAllRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	res := s.Engine.CloseAll(c.Request.Context(), engine.CloseFilter{
		Symbol: strings.ToUpper(req.Symbol),
		Side:   transport.Side(req.Side),
	})
	c.JSON(http.StatusOK, res)
}

// --- Trading ---

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	side := transport.Side(req.Side)
	params := order.Params{
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Volume:      req.Volume,
		StopLoss:    req.StopLoss,
		TakeProfit:  req.TakeProfit,
		RiskPercent: req.RiskPercent,
	}
	s.log.Info().Str("operator", CurrentOperator(c)).Str("symbol", params.Symbol).
		Str("side", req.Side).Float64("volume", params.Volume).Bool("async", req.Async).Msg("order requested")

	ctx := c.Request.Context()
	if req.Async {
		if err := s.Engine.SubmitOrder(ctx, side, params); err != nil {
			respondTradeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	res, err := s.Engine.PlaceOrder(ctx, side, params)
	if errors.Is(err, order.ErrCancelled) {
		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "reason": err.Error()})
		return
	}
	if err != nil {
		respondTradeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) suggestVolume(c *gin.Context) {
	symbol := strings.ToUpper(c.Query("symbol"))
	side := transport.Side(strings.ToLower(c.Query("side")))
	stopLoss, err := strconv.ParseFloat(c.Query("stop_loss"), 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "stop_loss must be a number")
		return
	}
	riskPercent := s.Engine.RiskLimits().DefaultRiskPercent
	if v := c.Query("risk_percent"); v != "" {
		if riskPercent, err = strconv.ParseFloat(v, 64); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "risk_percent must be a number")
			return
		}
	}
	volume, err := s.Engine.SuggestVolume(symbol, side, stopLoss, riskPercent)
	if err != nil {
		respondTradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "side": side, "risk_percent": riskPercent, "volume": volume})
}

func (s *Server) getConfirmations(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Confirmations())
}

func (s *Server) resolveConfirmation(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := s.Engine.ResolveConfirmation(c.Param("id"), req.Approve); err != nil {
		respondTradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "approved": req.Approve})
}

// --- Risk & performance ---

func (s *Server) getRisk(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"limits":  s.Engine.RiskLimits(),
		"metrics": s.Engine.RiskMetrics(),
	})
}

func (s *Server) getPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Performance())
}

func (s *Server) getTrades(c *gin.Context) {
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()
	c.JSON(http.StatusOK, s.Engine.Trades(q.Limit))
}
