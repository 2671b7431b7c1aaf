// internal/web/server.go
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/stearz/Nagstamon/internal/config"
	"github.com/stearz/Nagstamon/internal/poll"
	"github.com/stearz/Nagstamon/internal/status"
)

type Server struct {
	config *config.Config
	engine *poll.Engine
	router *gin.Engine
	server *http.Server

	wsMu      sync.Mutex
	wsClients map[*WSClient]bool
}

func NewServer(cfg *config.Config, engine *poll.Engine) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		config:    cfg,
		engine:    engine,
		router:    router,
		wsClients: make(map[*WSClient]bool),
	}

	// push fresh snapshots to connected UI clients
	engine.OnSnapshot(func(snapshot *status.Snapshot) {
		server.broadcast(WSMessage{Type: "snapshot", Data: snapshot})
	})

	server.setupRoutes()
	return server
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("port", s.config.Server.Port).Info("Starting web server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.serviceInfo)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/status/:backend", s.getBackendStatus)

		api.GET("/backends", s.getBackends)
		api.GET("/backends/:backend/monitor-url", s.getMonitorURL)
		api.POST("/backends/:backend/refresh", s.refreshBackend)

		api.POST("/actions/acknowledge", s.acknowledge)
		api.POST("/actions/downtime", s.setDowntime)
		api.POST("/actions/recheck", s.recheck)
		api.POST("/actions/recheck-all", s.recheckAll)

		api.GET("/health", s.healthCheck)
	}

	// WebSocket endpoint
	s.router.GET("/ws", s.handleWebSocket)

	// Prometheus metrics
	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

func (s *Server) serviceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  "nagstamon",
		"backends": s.engine.Backends(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
