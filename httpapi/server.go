package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	synccommand "github.com/goliatone/go-atlassian-sync/command"
	"github.com/goliatone/go-atlassian-sync/core"
	"github.com/goliatone/go-atlassian-sync/inbound"
	syncquery "github.com/goliatone/go-atlassian-sync/query"

	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultShutdownTimeout = 5 * time.Second

// WebhookDispatcher accepts raw webhook deliveries.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, req inbound.WebhookRequest) (inbound.WebhookResult, error)
}

// EventReader is the admin read surface.
type EventReader interface {
	syncquery.SyncEventReader
	syncquery.AuditReader
}

type Dependencies struct {
	Webhooks  WebhookDispatcher
	Recovery  synccommand.RecoveryService
	Events    EventReader
	Scheduler synccommand.SchedulerTicker
	Health    core.HealthChecker
	Logger    core.Logger
	// MaxBodyBytes caps webhook bodies. Zero disables the limit.
	MaxBodyBytes int64
	ServiceName  string
}

// Server wraps the gin router and the http.Server it is mounted on.
type Server struct {
	deps       Dependencies
	router     *gin.Engine
	httpServer *http.Server
	logger     core.Logger
}

func NewServer(addr string, deps Dependencies) (*Server, error) {
	if deps.Webhooks == nil {
		return nil, errors.New("httpapi: webhook dispatcher is required")
	}
	if deps.Events == nil || deps.Recovery == nil {
		return nil, errors.New("httpapi: event reader and recovery service are required")
	}
	if strings.TrimSpace(deps.ServiceName) == "" {
		deps.ServiceName = "atlassian-sync"
	}
	server := &Server{
		deps:   deps,
		logger: glog.Ensure(deps.Logger),
	}
	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	webhooks := newWebhookHandler(s.deps.Webhooks, s.deps.MaxBodyBytes)
	webhooks.RegisterRoutes(router)

	admin := newAdminHandler(s.deps.Recovery, s.deps.Events, s.deps.Scheduler)
	admin.RegisterRoutes(router.Group("/admin"))

	router.GET("/healthz", s.health)
	return router
}

// Start blocks until the server stops. A graceful shutdown is not an error.
func (s *Server) Start() error {
	s.logger.Info("starting sync http server", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down sync http server")
	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"service": s.deps.ServiceName,
	}
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, body)
		return
	}
	downstream, err := s.deps.Health.Health(c.Request.Context())
	if err != nil {
		mapped := core.MapError(err)
		body["status"] = "degraded"
		body["downstream"] = gin.H{"status": "unavailable", "error": mapped.Message}
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["downstream"] = downstream
	c.JSON(http.StatusOK, body)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("sync http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
