package infra

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AttemptLimiter limita tentativas de reserve/cancel por chave (em geral o UserID)
// com token bucket (x/time/rate), cache por chave e limpeza periódica.
//
// Não tem relação com a capacidade dos eventos: só protege o núcleo de
// clientes que disparam tentativas em loop.
type AttemptLimiter struct {
	mu           sync.Mutex
	entries      map[string]*limiterEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type LimiterOption func(*AttemptLimiter)

func WithIdleTTL(d time.Duration) LimiterOption {
	return func(l *AttemptLimiter) { l.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LimiterOption {
	return func(l *AttemptLimiter) { l.cleanupEvery = d }
}

func NewAttemptLimiter(rps float64, burst int, opts ...LimiterOption) *AttemptLimiter {
	l := &AttemptLimiter{
		entries:      make(map[string]*limiterEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *AttemptLimiter) RPS() float64 { return float64(l.rps) }
func (l *AttemptLimiter) Burst() int   { return l.burst }

// Allow consome um token da chave, se houver.
func (l *AttemptLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

func (l *AttemptLimiter) get(key string) *rate.Limiter {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(l.rps, l.burst)
	l.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

func (l *AttemptLimiter) Cleanup() {
	cutoff := time.Now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (l *AttemptLimiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}
