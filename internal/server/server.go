// Package server exposes the estimation engine over HTTP.
//
//	POST /v1/estimate     estimate one question
//	GET  /v1/rules        list learned rules
//	GET  /v1/rules/stats  summarize the rule store
//	GET  /metrics         Prometheus metrics
//	GET  /healthz         liveness
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/learning"
	"github.com/rand/guesstimate/internal/report"
)

const requestIDHeader = "X-Request-ID"

// Estimator answers questions.
type Estimator interface {
	Estimate(ctx context.Context, question string, ectx estimate.Context) *estimate.Result
}

// Config configures a Server.
type Config struct {
	Addr string

	// RequestTimeout bounds one estimation.
	// Default: 60s
	RequestTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Server is the HTTP surface of the engine.
type Server struct {
	config    Config
	estimator Estimator
	rules     learning.Lister
	logger    *slog.Logger
	router    *gin.Engine
}

// New creates a server. rules may be nil, in which case the rule
// endpoints answer 404.
func New(estimator Estimator, rules learning.Lister, config Config) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{config: config, estimator: estimator, rules: rules, logger: logger}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/estimate", s.handleEstimate)
	v1.GET("/rules", s.handleListRules)
	v1.GET("/rules/stats", s.handleRuleStats)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) log(c *gin.Context, handler string) *slog.Logger {
	return s.logger.With("request_id", c.GetString(requestIDHeader), "handler", handler)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if s.rules != nil {
		if _, err := s.rules.Stats(c.Request.Context()); err != nil {
			resp.Status, resp.Store = "degraded", err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp.Store = "ok"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEstimate(c *gin.Context) {
	logger := s.log(c, "estimate")

	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	r := s.estimator.Estimate(ctx, req.Question, req.Context())
	logger.Info("estimated",
		"question", req.Question,
		"source", report.Source(r),
		"confidence", r.Confidence,
		"duration", time.Since(start))

	if req.Trace {
		c.JSON(http.StatusOK, r)
		return
	}
	doc, err := report.JSON(r)
	if err != nil {
		logger.Error("render result", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "RENDER_FAILED"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
}

func (s *Server) handleListRules(c *gin.Context) {
	if s.rules == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "rule store does not support listing", Code: "NOT_SUPPORTED"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer", Code: "INVALID_REQUEST"})
			return
		}
		limit = n
	}
	rules, err := s.rules.List(c.Request.Context(), limit)
	if err != nil {
		s.log(c, "list_rules").Error("list rules", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
		return
	}
	for i := range rules {
		rules[i].Embedding = nil
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (s *Server) handleRuleStats(c *gin.Context) {
	if s.rules == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "rule store does not support listing", Code: "NOT_SUPPORTED"})
		return
	}
	stats, err := s.rules.Stats(c.Request.Context())
	if err != nil {
		s.log(c, "rule_stats").Error("rule stats", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
