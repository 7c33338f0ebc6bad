package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"clinic-billing/internal/audit"
	"clinic-billing/internal/auth"
	statementapp "clinic-billing/internal/billing/application"
	billing "clinic-billing/internal/billing/domain"
	"clinic-billing/internal/billing/infrastructure/memory"
	billingrepo "clinic-billing/internal/billing/infrastructure/postgres"
	billinginterfaces "clinic-billing/internal/billing/interfaces"
	"clinic-billing/internal/observability/logging"
	"clinic-billing/internal/observability/metrics"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	var (
		invoices    billing.InvoiceStore
		payments    billing.PaymentStore
		auditLogger audit.Logger
		db          *sql.DB
	)
	switch cfg.Store {
	case storePostgres:
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return err
		}
		invoices = billingrepo.NewInvoiceStore(db)
		payments = billingrepo.NewPaymentStore(db)
		auditLogger = audit.NewRepository(db)
	case storeMemory:
		store := memory.NewStore()
		if cfg.SeedFile != "" {
			seeded, err := memory.LoadSeedFile(cfg.SeedFile)
			if err != nil {
				return err
			}
			store = seeded
		}
		invoices, payments = store, store
		auditLogger = audit.NewZapLogger(logger)
	}

	metrics.Init(db, logger)

	service, err := statementapp.NewStatementService(invoices, payments,
		statementapp.WithLogger(logger.Named("statement")),
		statementapp.WithPaymentBatchSize(cfg.PaymentBatchSize),
	)
	if err != nil {
		return err
	}
	statementHandler, err := billinginterfaces.NewStatementHandler(service, auditLogger, logger.Named("http"))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	statementHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	if !authMiddleware.Enabled() {
		logger.Warn("auth disabled: AUTH_JWT_SECRET not set")
	}

	var handler http.Handler = timeoutMiddleware(authMiddleware.Wrap(mux), cfg.StoreTimeout)
	if len(cfg.CORSOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "If-None-Match"},
			ExposedHeaders: []string{"ETag", "X-Report-Digest", "Content-Disposition", "X-Request-ID"},
			MaxAge:         300,
		})(handler)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(handler, logger.Named("access")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		elapsed := time.Since(start)
		metrics.ObserveHTTP(r.Method, resp.status, elapsed)
		logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", elapsed),
		)
	})
}

// timeoutMiddleware bounds how long a request may spend waiting on the stores.
func timeoutMiddleware(next http.Handler, timeout time.Duration) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
