// Package api serves the operator HTTP surface: queue counts, job lookup
// and retry, index-sync statistics and on-demand reconciliation.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/engine"
	"github.com/hirelane/taskcore/intercept"
	"github.com/hirelane/taskcore/syncer"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng        *engine.Engine
	reconciler *syncer.Reconciler
	supervisor *intercept.Supervisor
	logger     *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithReconciler enables the sync routes.
func WithReconciler(r *syncer.Reconciler) Option {
	return func(a *API) { a.reconciler = r }
}

// WithSupervisor adds dispatch supervisor counters to sync stats.
func WithSupervisor(s *intercept.Supervisor) Option {
	return func(a *API) { a.supervisor = s }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API for eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with every route registered.
func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), a.requestLogger())
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers the routes on router.
func (a *API) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", a.health)

	v1 := router.Group("/v1")
	v1.GET("/queues", a.listQueues)
	v1.GET("/queues/:queue/counts", a.queueCounts)
	v1.GET("/jobs", a.listJobs)
	v1.GET("/jobs/:jobId", a.getJob)
	v1.POST("/jobs/:jobId/retry", a.retryJob)

	if a.reconciler != nil {
		v1.GET("/sync/stats", a.syncStats)
		v1.GET("/sync/diff", a.syncDiff)
		v1.POST("/sync/reconcile", a.reconcile)
	}
}

// health reports broker connectivity.
func (a *API) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := a.eng.Runtime().Store().Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

// abort writes err with the status its sentinel maps to.
func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, taskcore.ErrJobNotFound),
		errors.Is(err, taskcore.ErrRunNotFound),
		errors.Is(err, taskcore.ErrRecordNotFound),
		errors.Is(err, taskcore.ErrUnknownQueue):
		status = http.StatusNotFound
	case errors.Is(err, taskcore.ErrInvalidState):
		status = http.StatusConflict
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
