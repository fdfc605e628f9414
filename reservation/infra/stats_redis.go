package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"reservation-gateway/reservation/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsConfig configura o RedisStatsStore. Campos zerados usam o padrão.
type RedisStatsConfig struct {
	Prefix string // padrão "reservation:stats"
	// TTL das séries e dos hashes por recurso; o total nunca expira. 0 não expira nada.
	TTL            time.Duration
	Bucket         string // "minute" (padrão), "hour" ou "none"
	TrackResources bool
}

var statsBucketLayouts = map[string]string{
	"minute": "200601021504",
	"hour":   "2006010215",
	"none":   "",
}

// RedisStatsStore grava contadores de resultado em hashes do Redis.
//
//	<prefix>:total             {reserve:ok, reserve:CAPACITY_EXCEEDED, cancel:ok, ...}
//	<prefix>:<bucket>:<stamp>  mesmos campos, com TTL
//	<prefix>:resource:<id>     mesmos campos, com TTL (opcional)
type RedisStatsStore struct {
	rdb    *redis.Client
	cfg    RedisStatsConfig
	layout string
}

func NewRedisStatsStore(rdb *redis.Client, cfg RedisStatsConfig) (*RedisStatsStore, error) {
	cfg.Prefix = strings.Trim(strings.TrimSpace(cfg.Prefix), ":")
	if cfg.Prefix == "" {
		cfg.Prefix = "reservation:stats"
	}
	cfg.Bucket = strings.ToLower(strings.TrimSpace(cfg.Bucket))
	if cfg.Bucket == "" {
		cfg.Bucket = "minute"
	}
	layout, ok := statsBucketLayouts[cfg.Bucket]
	if !ok {
		return nil, fmt.Errorf("stats bucket must be minute, hour or none, got %q", cfg.Bucket)
	}
	return &RedisStatsStore{rdb: rdb, cfg: cfg, layout: layout}, nil
}

// statsField monta "reserve:ok" ou "cancel:ALREADY_CANCELLED".
func statsField(ev domain.OutcomeEvent) string {
	if ev.OK {
		return string(ev.Op) + ":ok"
	}
	return string(ev.Op) + ":" + string(ev.Reason)
}

type statsTarget struct {
	key     string
	expires bool
}

func (s *RedisStatsStore) targets(ev domain.OutcomeEvent, at time.Time) []statsTarget {
	out := []statsTarget{{key: s.cfg.Prefix + ":total"}}
	if s.layout != "" {
		out = append(out, statsTarget{
			key:     s.cfg.Prefix + ":" + s.cfg.Bucket + ":" + at.UTC().Format(s.layout),
			expires: true,
		})
	}
	if id := strings.TrimSpace(string(ev.ResourceID)); s.cfg.TrackResources && id != "" {
		out = append(out, statsTarget{key: s.cfg.Prefix + ":resource:" + id, expires: true})
	}
	return out
}

// Record incrementa todas as chaves do evento num único MULTI/EXEC, então
// total, série e recurso nunca ficam descasados entre si.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.OutcomeEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := statsField(ev)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tg := range s.targets(ev, at) {
			pipe.HIncrBy(ctx, tg.key, field, 1)
			if tg.expires && s.cfg.TTL > 0 {
				pipe.Expire(ctx, tg.key, s.cfg.TTL)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record stats: %w", err)
	}
	return nil
}

// Snapshot lê o hash total no mesmo formato do MemoryStatsStore.
func (s *RedisStatsStore) Snapshot(ctx context.Context) (StatsSnapshot, error) {
	snap := newStatsSnapshot()
	if s == nil || s.rdb == nil {
		return snap, nil
	}
	fields, err := s.rdb.HGetAll(ctx, s.cfg.Prefix+":total").Result()
	if err != nil {
		return StatsSnapshot{}, fmt.Errorf("read stats: %w", err)
	}
	for field, raw := range fields {
		op, outcome, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return StatsSnapshot{}, fmt.Errorf("stats field %s: %w", field, err)
		}
		snap.add(domain.Op(op), outcome, n)
	}
	return snap, nil
}
