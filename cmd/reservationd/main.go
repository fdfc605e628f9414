package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reservation-gateway/reservation"
	"reservation-gateway/reservation/application"
	"reservation-gateway/reservation/domain"
	"reservation-gateway/reservation/infra"
	"reservation-gateway/reservation/infra/sqlite"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("reservationd stopped", zap.Error(err))
	}
}

func newLogger(cfg config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

func run(cfg config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := setupTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	var rdb *redis.Client
	if cfg.needsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	store, err := openStore(cfg, rdb)
	if err != nil {
		return err
	}
	if cfg.StoreBackend != "redis" {
		// com redis, o cliente compartilhado já é fechado pelo defer acima.
		defer func() { _ = store.Close() }()
	}

	var catalog domain.Catalog
	if cfg.CatalogPath != "" {
		fc, err := infra.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return err
		}
		catalog = fc
		mirror := application.CatalogMirror{Catalog: catalog, Store: store, Logger: logger}
		if _, err := mirror.Sync(ctx); err != nil {
			return err
		}
	}

	sink, closeSink := buildNotifier(cfg, rdb, logger)
	defer closeSink()
	notifier := application.NewAsyncNotifier(sink, cfg.NotifyQueueSize,
		application.WithDeliveryTimeout(cfg.NotifyTimeout),
		application.WithNotifierLogger(logger),
	)

	stats, err := buildStats(cfg, rdb)
	if err != nil {
		return fmt.Errorf("build stats: %w", err)
	}
	var statsSink domain.StatsStore
	if stats != nil {
		statsSink = stats
	}

	svc := application.Service{
		Store:          store,
		Notifier:       notifier,
		Stats:          statsSink,
		Logger:         logger,
		Tracer:         otel.Tracer("reservation-gateway/reservationd"),
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
	}

	var directory domain.Directory = infra.HeaderDirectory{}
	if cfg.AuthMode == "jwt" {
		directory = infra.JWTDirectory{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, Leeway: cfg.JWTLeeway}
	}

	h := reservation.NewHandler(reservation.Options{
		Service:    svc,
		Store:      store,
		Catalog:    catalog,
		Logger:     logger,
		RetryAfter: cfg.RetryAfter,
	})
	if cfg.MaxInFlight > 0 {
		h = reservation.InFlightMiddleware(reservation.InFlightOptions{
			Pool:           infra.NewSlotPool(cfg.MaxInFlight),
			AcquireTimeout: cfg.InFlightTimeout,
			RetryAfter:     cfg.RetryAfter,
		})(h)
	}
	if cfg.RateEnabled {
		limiter := infra.NewAttemptLimiter(cfg.RateRPS, cfg.RateBurst)
		limiter.StartJanitor(ctx)
		h = reservation.RateLimitMiddleware(reservation.RateLimitOptions{
			Limiter:             limiter,
			RetryAfter:          cfg.RetryAfter,
			AddRateLimitHeaders: cfg.AddRateLimitHeaders,
		})(h)
	}
	h = reservation.IdentityMiddleware(reservation.IdentityOptions{
		Directory: directory,
		Header:    cfg.UserHeader,
		Logger:    logger,
	})(h)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if stats != nil {
		root.Handle("GET /stats", statsHandler(stats, logger))
	}
	root.Handle("/", h)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	logger.Info("reservationd listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("store", cfg.StoreBackend),
		zap.Strings("notifiers", cfg.Notifiers),
		zap.String("auth", cfg.AuthMode),
		zap.Bool("rate_enabled", cfg.RateEnabled),
		zap.Int("max_in_flight", cfg.MaxInFlight),
		zap.Bool("stats_enabled", cfg.StatsEnabled),
		zap.Bool("tracing", cfg.OTLPEndpoint != ""),
	)

	err = serve(ctx, srv, ln, 10*time.Second)
	// handlers já terminaram: entrega o que ainda estiver na fila antes que os
	// defers fechem destinos, store e redis.
	_ = notifier.Close()
	if err != nil {
		return err
	}
	logger.Info("reservationd stopped")
	return nil
}

// serve atende em ln até ctx acabar e só retorna depois que Shutdown drenou os
// handlers em andamento (ou drain estourou). Serve devolve ErrServerClosed assim
// que o Shutdown começa, por isso a espera pelo done.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, drain time.Duration) error {
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(cfg config, rdb *redis.Client) (domain.Store, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath, cfg.SQLiteBusyTimeout)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "redis":
		return infra.NewRedisStore(rdb, infra.WithRedisPrefix(cfg.RedisPrefix)), nil
	default:
		return infra.NewMemoryStore(infra.WithLockTimeout(cfg.LockTimeout)), nil
	}
}

// buildNotifier monta o fan-out dos destinos configurados. O closer libera o writer do Kafka.
func buildNotifier(cfg config, rdb *redis.Client, logger *zap.Logger) (domain.Notifier, func()) {
	var (
		sinks   infra.FanOut
		closers []func()
	)
	for _, name := range cfg.Notifiers {
		switch name {
		case "log":
			sinks = append(sinks, infra.LogNotifier{Logger: logger})
		case "redis":
			sinks = append(sinks, infra.NewRedisNotifier(rdb, cfg.NotifyRedisChannel))
		case "kafka":
			kn := infra.NewKafkaNotifier(infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
			sinks = append(sinks, kn)
			closers = append(closers, func() { _ = kn.Close() })
		}
	}
	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

// statsStore grava resultados e expõe o agregado em GET /stats.
type statsStore interface {
	domain.StatsStore
	Snapshot(ctx context.Context) (infra.StatsSnapshot, error)
}

func buildStats(cfg config, rdb *redis.Client) (statsStore, error) {
	if !cfg.StatsEnabled {
		return nil, nil
	}
	if cfg.StatsBackend == "redis" {
		return infra.NewRedisStatsStore(rdb, infra.RedisStatsConfig{
			Prefix:         cfg.StatsPrefix,
			TTL:            cfg.StatsTTL,
			Bucket:         cfg.StatsBucket,
			TrackResources: cfg.StatsTrackResources,
		})
	}
	return infra.NewMemoryStatsStore(infra.WithTrackResources(cfg.StatsTrackResources)), nil
}

func statsHandler(stats statsStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := stats.Snapshot(r.Context())
		if err != nil {
			logger.Error("read stats", zap.Error(err))
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	}
}
