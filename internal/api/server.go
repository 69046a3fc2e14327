// Package api implements the internal HTTP API consumed by the bet
// worker pool (§6.1), the bet-creation endpoint for the betting frontend,
// and the supplemented read endpoints/health/metrics routes. Routing is
// gin, following the teacher's internal/gateway/server.go shape.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/audit"
	"github.com/reecen9696/atomiq-bet-settlement/internal/queue"
)

// Config governs the HTTP server itself (distinct from config.ServerConfig
// so this package does not need to import internal/config).
type Config struct {
	Addr      string
	JWTSecret string
	Retry     queue.RetryPolicy
}

// Server wraps the gin engine and the underlying net/http.Server so main
// can start it in a goroutine and shut it down gracefully.
type Server struct {
	router *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

// NewServer builds the router and registers every route this package
// owns. store is the bet queue; auditLog may be nil, in which case
// transitions are simply not recorded (used by tests that don't care).
func NewServer(logger *zap.Logger, cfg Config, store queue.Store, auditLog *audit.Log) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	registerSwaggerRoutes(router)

	h := &handlers{store: store, logger: logger, audit: auditLog, retry: cfg.Retry}

	public := router.Group("/api")
	public.POST("/bets", h.createBet)

	external := router.Group("/api/external")
	external.Use(jwtAuth(cfg.JWTSecret))
	{
		external.GET("/bets/pending", gzipResponse(), h.pendingBets)
		external.POST("/batches/:batchId", h.reportBatch)
		external.GET("/bets/:id", h.getBet)
		external.GET("/bets", h.listBetsByUser)
	}

	return &Server{
		router: router,
		logger: logger,
		http:   &http.Server{Addr: cfg.Addr, Handler: router},
	}
}

// Router exposes the underlying engine, primarily for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the HTTP server until it is shut down. It returns nil after a
// graceful Shutdown and the listen error otherwise.
func (s *Server) Start() error {
	s.logger.Info("api server starting", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("api server shutting down")
	return s.http.Shutdown(ctx)
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
