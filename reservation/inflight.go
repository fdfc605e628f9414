package reservation

import (
	"context"
	"net/http"
	"time"
)

// SlotAcquirer é implementado por infra.SlotPool.
type SlotAcquirer interface {
	Acquire(ctx context.Context, timeout time.Duration) (release func(), err error)
}

type InFlightOptions struct {
	Pool SlotAcquirer
	// AcquireTimeout <= 0 espera até o cliente desistir.
	AcquireTimeout time.Duration
	RetryAfter     time.Duration
}

// InFlightMiddleware limita quantas requisições chegam ao núcleo ao mesmo tempo.
// Sem vaga dentro do prazo: 503 OVERLOADED com Retry-After.
func InFlightMiddleware(opts InFlightOptions) func(next http.Handler) http.Handler {
	if opts.Pool == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 1 * time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := opts.Pool.Acquire(r.Context(), opts.AcquireTimeout)
			if err != nil {
				if r.Context().Err() != nil {
					return
				}
				w.Header().Set("Retry-After", formatInt(int(opts.RetryAfter.Seconds())))
				writeError(w, http.StatusServiceUnavailable, "OVERLOADED")
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
