package reservation

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// AttemptLimiter decide se mais uma tentativa da chave é permitida agora.
//
// Observação: a implementação pode ser token-bucket, leaky-bucket, etc.
// A camada de infra usa golang.org/x/time/rate.
type AttemptLimiter interface {
	Allow(key string) bool
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

type RateLimitOptions struct {
	Limiter             AttemptLimiter
	RejectStatus        int
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
}

// RateLimitMiddleware limita tentativas por usuário (ou por IP, se o request
// ainda não passou pelo IdentityMiddleware). Sem Limiter, não limita nada.
func RateLimitMiddleware(opts RateLimitOptions) func(next http.Handler) http.Handler {
	if opts.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 1 * time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiterKey(r)

			if opts.AddRateLimitHeaders {
				if ri, ok := opts.Limiter.(rateInfo); ok {
					w.Header().Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
					w.Header().Set("X-RateLimit-Burst", formatInt(ri.Burst()))
				}
			}

			if !opts.Limiter.Allow(key) {
				w.Header().Set("Retry-After", formatInt(int(opts.RetryAfter.Seconds())))
				writeError(w, opts.RejectStatus, "RATE_LIMITED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limiterKey(r *http.Request) string {
	if user, ok := UserFrom(r.Context()); ok {
		return "user:" + string(user)
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return "ip:" + host
	}
	if r.RemoteAddr != "" {
		return "ip:" + r.RemoteAddr
	}
	return "unknown"
}
