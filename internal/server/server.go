// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/chainscout/internal/analyzer"
	"github.com/mbd888/chainscout/internal/assistant"
	"github.com/mbd888/chainscout/internal/chains"
	"github.com/mbd888/chainscout/internal/config"
	"github.com/mbd888/chainscout/internal/dataapi"
	"github.com/mbd888/chainscout/internal/health"
	"github.com/mbd888/chainscout/internal/idgen"
	"github.com/mbd888/chainscout/internal/intent"
	"github.com/mbd888/chainscout/internal/logging"
	"github.com/mbd888/chainscout/internal/metrics"
	"github.com/mbd888/chainscout/internal/ratelimit"
	"github.com/mbd888/chainscout/internal/security"
	"github.com/mbd888/chainscout/internal/supervisor"
	"github.com/mbd888/chainscout/internal/toolproc"
	"github.com/mbd888/chainscout/internal/traces"
	"github.com/mbd888/chainscout/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Querier answers free-text queries. Implemented by *assistant.Assistant.
type Querier interface {
	Query(ctx context.Context, message string) assistant.Answer
}

// Lifecycle is the supervisor surface the HTTP handlers use.
type Lifecycle interface {
	Start(ctx context.Context) bool
	Restart(ctx context.Context) bool
	Stop()
	Status() supervisor.Status
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	sup         Lifecycle
	assistant   Querier
	analyzer    *analyzer.Analyzer
	checks      *health.Registry
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	tracesShutdown func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSupervisor sets a custom supervisor (for testing)
func WithSupervisor(sup Lifecycle) Option {
	return func(s *Server) {
		s.sup = sup
	}
}

// WithQuerier sets a custom query dispatcher (for testing)
func WithQuerier(q Querier) Option {
	return func(s *Server) {
		s.assistant = q
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set supervisor/querier/logger)
	for _, opt := range opts {
		opt(s)
	}

	client := dataapi.New(dataapi.Config{
		BaseURL: cfg.DataAPIURL,
		APIKey:  cfg.DataAPIKey,
	})
	s.analyzer = analyzer.New(client, analyzer.WithLogger(s.logger))

	if s.sup == nil {
		runner := toolproc.NewClient(toolproc.Config{
			Command:     cfg.ToolCommand,
			Args:        cfg.ToolArgs,
			Env:         []string{"DATA_API_KEY=" + cfg.DataAPIKey, "DATA_API_URL=" + cfg.DataAPIURL},
			CallTimeout: cfg.CallTimeout,
		}, toolproc.WithLogger(s.logger))

		sup := supervisor.New(runner, supervisor.Config{
			ConnectTimeout: cfg.ConnectTimeout,
			HealthInterval: cfg.HealthInterval,
			RestartBackoff: cfg.RestartBackoff,
			MaxRestarts:    cfg.MaxRestarts,
		}, supervisor.WithLogger(s.logger))
		s.sup = sup

		if s.assistant == nil {
			s.assistant = assistant.New(sup, s.analyzer, assistant.WithLogger(s.logger))
		}
	}
	if s.assistant == nil {
		return nil, fmt.Errorf("a querier is required when a custom supervisor is set")
	}

	s.checks = health.NewRegistry()
	s.checks.Register("tool_process", func(ctx context.Context) health.Status {
		st := s.sup.Status()
		if st.Connected {
			return health.Status{Name: "tool_process", Healthy: true}
		}
		// Fallback keeps serving, so a dead subprocess degrades rather than fails.
		return health.Status{Name: "tool_process", Healthy: true, Detail: st.State}
	})

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req")
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	v1.POST("/query", s.queryHandler)
	v1.GET("/status", s.statusHandler)
	v1.POST("/restart", s.restartHandler)
	v1.GET("/chains", s.chainsHandler)
	v1.GET("/wallets/:address", s.walletHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Message string `json:"message"`
}

// QueryResponse is one answered query.
type QueryResponse struct {
	Text      string        `json:"text"`
	Intent    intent.Intent `json:"intent"`
	Route     string        `json:"route"`
	RequestID string        `json:"requestId"`
}

func (s *Server) queryHandler(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be valid JSON",
		})
		return
	}

	message := validation.SanitizeString(req.Message, validation.MaxRequestSize)
	if errs := validation.Validate(
		validation.Required("message", message),
		validation.MaxLength("message", message, validation.MaxMessageLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "query")
	defer span.End()

	ans := s.assistant.Query(ctx, message)
	span.SetAttributes(
		traces.IntentKind(string(ans.Intent.Kind)),
		traces.Route(ans.Route),
	)
	metrics.QueriesTotal.WithLabelValues(string(ans.Intent.Kind), ans.Route).Inc()

	c.JSON(http.StatusOK, QueryResponse{
		Text:      ans.Text,
		Intent:    ans.Intent,
		Route:     ans.Route,
		RequestID: logging.RequestID(ctx),
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tool": s.sup.Status(),
	})
}

func (s *Server) restartHandler(c *gin.Context) {
	logging.L(c.Request.Context()).Info("manual tool restart requested")

	connected := s.sup.Restart(c.Request.Context())
	status := http.StatusOK
	if !connected {
		status = http.StatusAccepted // restarting, still serving from fallback
	}
	c.JSON(status, gin.H{
		"connected": connected,
		"tool":      s.sup.Status(),
	})
}

func (s *Server) chainsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"chains": chains.All,
		"count":  chains.Count,
	})
}

func (s *Server) walletHandler(c *gin.Context) {
	address := validation.SanitizeAddress(c.Param("address"))

	ctx, span := traces.StartSpan(c.Request.Context(), "wallet_analysis", traces.WalletAddr(address))
	defer span.End()

	chain := chains.Default
	multi := true
	if id := c.Query("chain"); id != "" {
		d, ok := chains.ByID(id)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_chain",
				"message": "chain must be one of the supported chain ids",
			})
			return
		}
		chain = d
		multi = false
	}
	span.SetAttributes(traces.Chain(chain.ID))

	text := s.analyzer.Wallet(ctx, address, chain, multi)
	c.JSON(http.StatusOK, gin.H{
		"address":  address,
		"chain":    chain.ID,
		"multi":    multi,
		"analysis": text,
	})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		switch {
		case st.Healthy && st.Detail == "":
			checks[st.Name] = "healthy"
		case st.Healthy:
			checks[st.Name] = st.Detail
		default:
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "chainscout",
		"description": "Multi-chain wallet and gas analysis with an MCP tool backend",
		"version":     "0.1.0",
		"chains":      chains.Count,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.tracesShutdown = shutdown

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"tool_command", s.cfg.ToolCommand,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Bring the tool subprocess up. Failure is not fatal: requests are
	// served from the fallback path until a manual restart succeeds.
	go func() {
		if !s.sup.Start(runCtx) {
			s.logger.Warn("tool process did not connect, serving from fallback",
				"status", s.sup.Status().State)
		}
	}()

	go metrics.StartRuntimeCollector(runCtx, 15*time.Second)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the tool subprocess
	s.sup.Stop()
	s.logger.Info("tool process stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
