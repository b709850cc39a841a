// Package api exposes the assistant core over HTTP and a websocket event stream.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"trading-assistant/internal/engine"
	"trading-assistant/internal/monitor"
)

// Server wires HTTP endpoints around the engine facade.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Metrics   *monitor.Metrics
	JWTSecret string
	log       zerolog.Logger
	limiter   *ipLimiter
}

// NewServer builds the router. An empty jwtSecret leaves /api unauthenticated.
func NewServer(svc engine.Service, metrics *monitor.Metrics, jwtSecret string, log zerolog.Logger) *Server {
	r := gin.New()
	log = log.With().Str("component", "api").Logger()
	s := &Server{
		Router:    r,
		Engine:    svc,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		log:       log,
		limiter:   newIPLimiter(20, 50),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                      // Panic recovery (first)
	r.Use(RequestIDMiddleware())               // Request ID tracking
	r.Use(RequestLogger(log))                  // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(s.limiter, log)) // Rate limiting
	r.Use(CORSMiddleware())                    // CORS (last before routes)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	if s.JWTSecret != "" {
		api.Use(AuthMiddleware(s.JWTSecret))
	}
	{
		api.GET("/status", s.getStatus)
		api.POST("/connect", s.connect)
		api.POST("/disconnect", s.disconnect)

		api.GET("/subscriptions", s.getSubscriptions)
		api.POST("/subscriptions", s.subscribe)
		api.DELETE("/subscriptions/:symbol", s.unsubscribe)

		api.GET("/symbols", s.getSymbols)
		api.GET("/quotes", s.getQuotes)
		api.GET("/quotes/:symbol", s.getQuote)
		api.GET("/chart", s.getChart)
		api.PUT("/chart", s.selectChart)
		api.GET("/indicators/:symbol", s.getIndicators)

		api.GET("/account", s.getAccount)
		api.GET("/positions", s.getPositions)
		api.PUT("/positions/:id", s.modifyPosition)
		api.POST("/positions/:id/close", s.closePosition)
		api.POST("/positions/close-all", s.closeAll)

		api.POST("/orders", s.createOrder)
		api.GET("/orders/suggest-volume", s.suggestVolume)

		api.GET("/confirmations", s.getConfirmations)
		api.POST("/confirmations/:id", s.resolveConfirmation)

		api.GET("/risk", s.getRisk)
		api.GET("/performance", s.getPerformance)
		api.GET("/trades", s.getTrades)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler returns the router for use in an http.Server.
func (s *Server) Handler() http.Handler { return s.Router }
