package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"reservation-gateway/reservation"
	"reservation-gateway/reservation/application"
	"reservation-gateway/reservation/domain"
	"reservation-gateway/reservation/infra"

	"go.uber.org/zap"
)

// catálogo de demonstração; em produção vem de CATALOG_PATH (ver cmd/reservationd).
const demoCatalog = `
events:
  - id: show-abertura
    title: Show de abertura
    startsAt: 2026-11-01T20:00:00Z
    capacity: 5
  - id: palestra-go
    title: Palestra sobre Go
    startsAt: 2026-11-02T19:00:00Z
    capacity: 2
`

func main() {
	// Exemplo: tudo em memória, usuário vem do header X-User-ID (sem JWT).
	//
	//	curl -XPOST -H 'X-User-ID: alice' localhost:8081/events/palestra-go/reservations
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infra.NewMemoryStore()
	catalog, err := infra.ParseCatalog(strings.NewReader(demoCatalog))
	if err != nil {
		logger.Fatal("parse demo catalog", zap.Error(err))
	}
	if _, err := (application.CatalogMirror{Catalog: catalog, Store: store, Logger: logger}).Sync(ctx); err != nil {
		logger.Fatal("mirror catalog", zap.Error(err))
	}

	notifier := application.NewAsyncNotifier(infra.LogNotifier{Logger: logger}, 64)
	defer func() { _ = notifier.Close() }()
	stats := infra.NewMemoryStatsStore(infra.WithTrackResources(true))

	limiter := infra.NewAttemptLimiter(5, 10)
	limiter.StartJanitor(ctx)

	h := reservation.NewHandler(reservation.Options{
		Service: application.Service{Store: store, Notifier: notifier, Stats: stats, Logger: logger},
		Store:   store,
		Catalog: catalog,
		Logger:  logger,
	})
	h = reservation.RateLimitMiddleware(reservation.RateLimitOptions{Limiter: limiter, AddRateLimitHeaders: true})(h)
	h = reservation.IdentityMiddleware(reservation.IdentityOptions{
		Directory: infra.HeaderDirectory{},
		Header:    "X-User-ID",
		Logger:    logger,
	})(h)

	root := http.NewServeMux()
	root.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		entries, _ := catalog.List(r.Context())
		writeJSON(w, entries)
	})
	root.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"reserve":    stats.ByOp(domain.OpReserve),
			"cancel":     stats.ByOp(domain.OpCancel),
			"byReason":   stats.ByReason(),
			"byResource": stats.ByResource(),
		})
	})
	root.Handle("/", h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	// ListenAndServe volta quando o Shutdown começa; espera os handlers antes do notifier.Close.
	<-drained
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
