// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cardlinkhq/settle/internal/config"
	"github.com/cardlinkhq/settle/internal/escrow"
	"github.com/cardlinkhq/settle/internal/events"
	"github.com/cardlinkhq/settle/internal/guard"
	"github.com/cardlinkhq/settle/internal/identity"
	"github.com/cardlinkhq/settle/internal/ledger"
	"github.com/cardlinkhq/settle/internal/logging"
	"github.com/cardlinkhq/settle/internal/metrics"
	"github.com/cardlinkhq/settle/internal/payment"
	"github.com/cardlinkhq/settle/internal/platform"
	"github.com/cardlinkhq/settle/internal/realtime"
	"github.com/cardlinkhq/settle/internal/signing"
	"github.com/cardlinkhq/settle/internal/traces"
	"github.com/cardlinkhq/settle/internal/validation"
)

// custodyAuditLimit bounds how many events a custody audit replays.
const custodyAuditLimit = 10000

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	platform       *platform.Config
	ledger         *ledger.Ledger
	eventLog       *events.Log
	payments       *payment.Service
	escrows        *escrow.Service
	directory      *identity.Directory
	realtimeHub    *realtime.Hub
	locks          *guard.Locks
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	tracesShutdown func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Fee parameters and owner identity
	pl, err := platform.New(cfg.OwnerAddress, cfg.FeeRateBps, cfg.FeeCap, cfg.FeeRecipient)
	if err != nil {
		return nil, fmt.Errorf("invalid platform configuration: %w", err)
	}
	s.platform = pl

	// One lock table shared by payments and escrows so a record ID is busy
	// engine-wide, not per-service.
	s.locks = guard.NewLocks()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		ledgerStore   ledger.Store
		eventStore    events.Store
		paymentStore  payment.Store
		escrowStore   escrow.Store
		identityStore identity.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		ledgerStore = ledger.NewPostgresStore(db)
		eventStore = events.NewPostgresStore(db)
		paymentStore = payment.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		identityStore = identity.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		ledgerStore = ledger.NewMemoryStore()
		eventStore = events.NewMemoryStore()
		paymentStore = payment.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		identityStore = identity.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.ledger = ledger.New(ledgerStore)
	s.eventLog = events.NewLog(eventStore)
	s.directory = identity.NewDirectory(identityStore)

	// Realtime hub streams every appended event to WebSocket subscribers
	s.realtimeHub = realtime.NewHub(s.logger)
	s.eventLog.OnAppend(s.realtimeHub.BroadcastEngineEvent)
	s.logger.Info("realtime streaming enabled")

	s.payments = payment.NewService(paymentStore, s.ledger, s.platform, s.eventLog, s.locks, s.logger)
	s.escrows = escrow.NewService(
		escrowStore, s.ledger, s.eventLog, s.locks,
		escrow.SingleArbiter{Address: cfg.ArbiterAddress}, s.logger,
	)
	if cfg.EscrowRequireRegistered {
		s.escrows.RequireRegisteredParties(s.directory)
		s.logger.Info("escrow creation gated on participant registration")
	}

	// Tracing (no-op when OTEL_EXPORTER_OTLP_ENDPOINT is unset)
	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	if cfg.AuthDisabled {
		s.logger.Warn("signature verification DISABLED, X-Caller header is trusted")
	} else {
		s.logger.Info("wallet-signature authentication enabled")
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
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

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Wallet-signature verification (stores the caller, never rejects;
	// RequireAuth on individual routes does the rejecting)
	s.router.Use(signing.Middleware(s.cfg.AuthDisabled))

	// Attach the verified caller to the logging context so engine log lines
	// carry the wallet behind each mutation
	s.router.Use(func(c *gin.Context) {
		if caller := signing.AuthenticatedCaller(c); caller != "" {
			c.Request = c.Request.WithContext(logging.WithCaller(c.Request.Context(), caller))
		}
		c.Next()
	})
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
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

	// WebSocket for real-time event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	// PUBLIC READS
	// Platform parameters, balances, records, and the audit trail are open.
	platformHandler := platform.NewHandler(s.platform, s.logger)
	ledgerHandler := ledger.NewHandler(s.ledger, s.logger)
	paymentHandler := payment.NewHandler(s.payments, s.logger)
	escrowHandler := escrow.NewHandler(s.escrows, s.logger)
	eventsHandler := events.NewHandler(s.eventLog)
	identityHandler := identity.NewHandler(s.directory)

	v1.GET("/platform", platformHandler.GetPlatform)
	v1.GET("/accounts/:address/balance", ledgerHandler.GetBalance)
	v1.GET("/accounts/:address/ledger", ledgerHandler.GetHistory)
	v1.GET("/accounts/:address/payments", paymentHandler.ListPayments)
	v1.GET("/accounts/:address/escrows", escrowHandler.ListEscrows)
	v1.GET("/payments/:id", paymentHandler.GetPayment)
	v1.GET("/escrows/:id", escrowHandler.GetEscrow)
	v1.GET("/events", eventsHandler.ListEvents)
	v1.GET("/events/record/:recordId", eventsHandler.GetByRecord)
	v1.GET("/participants", identityHandler.List)
	v1.GET("/participants/:address", identityHandler.Get)
	v1.GET("/stats", s.statsHandler)
	v1.GET("/audit/custody", s.custodyAuditHandler)

	// PROTECTED ROUTES (require a verified wallet signature)
	protected := v1.Group("")
	protected.Use(signing.RequireAuth())
	{
		// The caller is always the payer; the signature is the authorization
		protected.POST("/payments", paymentHandler.CreatePayment)
		protected.POST("/escrows", escrowHandler.CreateEscrow)
		protected.POST("/escrows/:id/release", escrowHandler.ReleaseEscrow)
		protected.POST("/escrows/:id/refund", escrowHandler.RefundEscrow)
		protected.POST("/escrows/:id/dispute", escrowHandler.DisputeEscrow)
		protected.POST("/escrows/:id/resolve", escrowHandler.ResolveEscrow)

		// Deposits credit the caller's own balance
		protected.POST("/deposits", ledgerHandler.RecordDeposit)

		// Directory self-registration
		protected.POST("/participants", identityHandler.Register)

		// Fee mutation; the handler enforces that the caller is the owner
		protected.PUT("/platform/fees", platformHandler.SetFees)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v == "unhealthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
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
		"name":        "Settle",
		"description": "Payment and escrow engine for business messaging",
		"version":     "0.1.0",
	})
}

// statsHandler returns realtime hub statistics and engine parameters
func (s *Server) statsHandler(c *gin.Context) {
	params := s.platform.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"realtime": s.realtimeHub.Stats(),
		"fees": gin.H{
			"rateBps": params.FeeRateBps,
			"cap":     params.FeeCap,
		},
	})
}

// custodyAuditHandler replays the event log and reports escrows that still
// hold funds, plus any credits that never landed. Useful for reconciling
// custody against ledger holds.
func (s *Server) custodyAuditHandler(c *gin.Context) {
	ctx := c.Request.Context()

	all, err := s.eventLog.ListAfter(ctx, 0, custodyAuditLimit)
	if err != nil {
		logging.L(ctx).Error("custody audit failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "audit_error",
			"message": "Failed to replay the event log",
		})
		return
	}

	open := events.OpenCustody(all)
	records := make([]*events.Event, 0, len(open))
	for _, e := range open {
		records = append(records, e)
	}
	failed := events.FailedCredits(all)

	c.JSON(http.StatusOK, gin.H{
		"openCustody":    records,
		"count":          len(records),
		"failedCredits":  failed,
		"eventsReplayed": len(all),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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
			"owner", s.cfg.OwnerAddress,
			"arbiter", s.cfg.ArbiterAddress,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start DB pool stats collector
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Flush traces
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
