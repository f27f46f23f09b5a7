package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kevin07696/epay-processor/internal/adapters/epay"
	"github.com/kevin07696/epay-processor/internal/adapters/events"
	"github.com/kevin07696/epay-processor/internal/adapters/gatewayhttp"
	"github.com/kevin07696/epay-processor/internal/adapters/memory"
	"github.com/kevin07696/epay-processor/internal/adapters/postgres"
	"github.com/kevin07696/epay-processor/internal/adapters/twocheckout"
	"github.com/kevin07696/epay-processor/internal/config"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
	checkoutHandler "github.com/kevin07696/epay-processor/internal/handlers/checkout"
	cronHandler "github.com/kevin07696/epay-processor/internal/handlers/cron"
	"github.com/kevin07696/epay-processor/internal/services/charge"
	"github.com/kevin07696/epay-processor/internal/services/payment"
	"github.com/kevin07696/epay-processor/pkg/middleware"
	"github.com/kevin07696/epay-processor/pkg/observability"
	"github.com/kevin07696/epay-processor/pkg/resilience"
	"github.com/kevin07696/epay-processor/pkg/shutdown"
	"github.com/kevin07696/epay-processor/pkg/timeutil"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ePay processor",
		zap.String("environment", cfg.Environment),
		zap.String("storage", cfg.Database.Storage),
		zap.Bool("epay", cfg.EPay.Enabled),
		zap.Bool("2checkout", cfg.TwoCheckout.Enabled),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Processor stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdowns := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout, registry)

	secretStore, closeSecrets, err := initSecretStore(ctx, cfg.Secrets, logger)
	if err != nil {
		return fmt.Errorf("init secret store: %w", err)
	}
	shutdowns.RegisterFunc("secrets", closeSecrets)
	if err := resolveSecrets(ctx, secretStore, cfg); err != nil {
		return err
	}
	if cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET is empty, cron endpoints will reject every request")
	}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if store.pool != nil {
		shutdowns.RegisterNoErr("database", store.pool.Close)
	}

	bus := events.NewBus(logger)
	events.LogEvents(bus, logger)

	timeouts := resilience.DefaultTimeoutConfig()
	timeouts.GatewayCall = cfg.Gateway.Timeout
	health := observability.NewHealthChecker(store.pinger())
	paymentMetrics := observability.NewPaymentMetrics(registry)

	orchestrators := initOrchestrators(cfg, store, bus, paymentMetrics, health, logger)
	if len(orchestrators) == 0 {
		return errors.New("no payment gateway enabled")
	}

	sweepers := make([]payment.Sweeper, 0, len(orchestrators))
	processors := make([]checkoutHandler.Processor, 0, len(orchestrators))
	capturers := make([]cronHandler.Capturer, 0, len(orchestrators))
	for _, o := range orchestrators {
		sweepers = append(sweepers, o)
		processors = append(processors, o)
		capturers = append(capturers, o)
	}

	scheduler := payment.NewScheduler(cfg.Capture.SweepInterval, timeouts, logger, sweepers...)
	scheduler.Start(ctx)
	// registered after the database so the pool outlives a draining sweep
	shutdowns.Register("capture-scheduler", scheduler.Shutdown)

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.Checkout.RateLimitRPS,
		Burst:             cfg.Checkout.RateLimitBurst,
		MaxClients:        middleware.DefaultRateLimitConfig().MaxClients,
		CleanupInterval:   middleware.DefaultRateLimitConfig().CleanupInterval,
		TrustProxy:        cfg.Checkout.TrustProxy,
	}, logger)
	shutdowns.RegisterNoErr("rate-limiter", limiter.Shutdown)

	mux := http.NewServeMux()
	checkoutHandler.NewHandler(store.checkouts, checkoutHandler.Config{
		DefaultTenant: cfg.Checkout.Tenant,
		SuccessURL:    cfg.Checkout.SuccessURL,
	}, logger, processors...).Register(mux, limiter.Middleware)
	cronHandler.NewCaptureHandler(scheduler, logger, cfg.CronSecret, capturers...).Register(mux)

	httpMetrics := observability.NewHTTPMetrics(registry)
	httpServer := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.Recovery(logger),
			httpMetrics.Middleware,
			middleware.Logging(logger),
			middleware.Timeout(timeouts),
		),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      timeouts.HTTPHandler + 5*time.Second,
	}

	metricsServer := observability.StartMetricsServer(cfg.Server.MetricsPort, registry, health, logger)
	shutdowns.RegisterHTTPServer("metrics-server", metricsServer)

	go func() {
		logger.Info("HTTP server listening", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()
	shutdowns.RegisterHTTPServer("http-server", httpServer)

	return shutdowns.WaitForSignal(ctx)
}

// storage bundles the ledger, token store and checkout source of one backend
type storage struct {
	pool      *pgxpool.Pool
	ledger    ports.PaymentLedger
	tokens    ports.TokenStore
	checkouts ports.CheckoutSource
}

func (s storage) pinger() observability.Pinger {
	if s.pool == nil {
		return nil
	}
	return s.pool
}

func initStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage, error) {
	clock := timeutil.SystemClock{}

	if cfg.Database.Storage == config.StorageMemory {
		logger.Warn("Using in-memory storage - payments are lost on restart")
		return storage{
			ledger:    memory.NewPaymentLedger(clock),
			tokens:    memory.NewTokenStore(),
			checkouts: memory.NewCheckoutSource(),
		}, nil
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.Database.ConnectionString())
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := postgres.NewPool(connectCtx, poolCfg, logger)
	if err != nil {
		return storage{}, fmt.Errorf("init database: %w", err)
	}
	postgres.MonitorPool(ctx, pool, time.Minute, logger)

	db := postgres.NewDBExecutor(pool)
	return storage{
		pool:      pool,
		ledger:    postgres.NewPaymentLedger(pool, clock),
		tokens:    postgres.NewTokenStore(pool),
		checkouts: postgres.NewCheckoutSource(db),
	}, nil
}

// initOrchestrators builds one orchestrator per enabled gateway, ePay first
func initOrchestrators(
	cfg *config.Config,
	store storage,
	bus *events.Bus,
	metrics payment.Metrics,
	health *observability.HealthChecker,
	logger *zap.Logger,
) []*payment.Orchestrator {
	transport := gatewayhttp.DefaultConfig()
	transport.Timeout = cfg.Gateway.Timeout
	transport.MaxRetries = cfg.Gateway.MaxRetries

	paymentCfg := payment.Config{
		SweepWindow:    cfg.Capture.SweepWindow,
		ClaimLease:     cfg.Capture.ClaimLease,
		PersistRetries: cfg.Capture.PersistRetries,
	}

	var orchestrators []*payment.Orchestrator

	if cfg.EPay.Enabled {
		epayCfg := epay.DefaultConfig(cfg.EPay.MerchantNumber, cfg.EPay.APIPassword)
		epayCfg.Currency = cfg.EPay.Currency
		epayCfg.APIURL = cfg.EPay.APIURL
		epayCfg.WindowURL = cfg.EPay.WindowURL
		epayCfg.AcceptURL = cfg.EPay.AcceptURL
		epayCfg.CancelURL = cfg.EPay.CancelURL
		epayCfg.CallbackURL = cfg.EPay.CallbackURL
		epayCfg.Language = cfg.EPay.Language
		epayCfg.WindowState = cfg.EPay.WindowState
		epayCfg.InstantCapture = cfg.EPay.InstantCapture
		epayCfg.MD5Key = cfg.EPay.MD5Key
		if len(cfg.EPay.AcceptedCards) > 0 {
			epayCfg.AcceptedCards = cfg.EPay.AcceptedCards
		}
		epayCfg.Transport = transport

		adapter := epay.NewAdapter(epayCfg, logger)
		health.AddGateway(adapter.Name(), func() string { return adapter.Transport().Breaker().State().String() })

		builder := charge.NewBuilder(charge.Config{
			Method:    adapter.Name(),
			AccountID: cfg.EPay.MerchantNumber,
			Currency:  cfg.EPay.Currency,
			ReturnURL: cfg.Checkout.ReturnURL,
		}, logger)

		oc := paymentCfg
		oc.Currency = cfg.EPay.Currency
		oc.ReturnSecret = cfg.EPay.MD5Key
		orchestrators = append(orchestrators, payment.NewOrchestrator(
			adapter, builder, store.ledger, store.tokens, bus, oc, logger,
			payment.WithMetrics(metrics),
		))
	}

	if cfg.TwoCheckout.Enabled {
		tcoCfg := twocheckout.DefaultConfig(cfg.TwoCheckout.AccountID)
		tcoCfg.APIUsername = cfg.TwoCheckout.APIUsername
		tcoCfg.APIPassword = cfg.TwoCheckout.APIPassword
		tcoCfg.SecretWord = cfg.TwoCheckout.SecretWord
		tcoCfg.Currency = cfg.TwoCheckout.Currency
		tcoCfg.Demo = cfg.TwoCheckout.Demo
		tcoCfg.PurchaseURL = cfg.TwoCheckout.PurchaseURL
		tcoCfg.APIURL = cfg.TwoCheckout.APIURL
		tcoCfg.Transport = transport

		adapter := twocheckout.NewAdapter(tcoCfg, logger)
		health.AddGateway(adapter.Name(), func() string { return adapter.Transport().Breaker().State().String() })

		builder := charge.NewBuilder(charge.Config{
			Method:    adapter.Name(),
			AccountID: cfg.TwoCheckout.AccountID,
			Currency:  cfg.TwoCheckout.Currency,
			ReturnURL: cfg.Checkout.ReturnURL,
			Demo:      cfg.TwoCheckout.Demo,
		}, logger)

		oc := paymentCfg
		oc.Currency = cfg.TwoCheckout.Currency
		oc.ReturnSecret = cfg.TwoCheckout.SecretWord
		orchestrators = append(orchestrators, payment.NewOrchestrator(
			adapter, builder, store.ledger, store.tokens, bus, oc, logger,
			payment.WithMetrics(metrics),
		))
	}

	return orchestrators
}

// initLogger builds a JSON production logger or a console development logger
func initLogger(cfg *config.Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() && !cfg.Logger.Development {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("service", "epay-processor"))
}
