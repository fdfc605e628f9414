package infra

import (
	"context"
	"testing"
	"time"

	"reservation-gateway/reservation/domain"
)

func TestMemoryStatsStore_CountsByOpAndReason(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackResources(true))
	ctx := context.Background()

	events := []domain.OutcomeEvent{
		{Op: domain.OpReserve, ResourceID: "e1", OK: true},
		{Op: domain.OpReserve, ResourceID: "e1", Reason: domain.ReasonCapacityExceeded},
		{Op: domain.OpReserve, ResourceID: "e2", Reason: domain.ReasonAlreadyReserved},
		{Op: domain.OpCancel, ResourceID: "e1", OK: true},
	}
	for _, ev := range events {
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if got := s.ByOp(domain.OpReserve); got.OK != 1 || got.Rejected != 2 {
		t.Fatalf("expected reserve ok=1 rejected=2, got %+v", got)
	}
	if got := s.ByOp(domain.OpCancel); got.OK != 1 || got.Rejected != 0 {
		t.Fatalf("expected cancel ok=1 rejected=0, got %+v", got)
	}
	reasons := s.ByReason()
	if reasons[domain.ReasonCapacityExceeded] != 1 || reasons[domain.ReasonAlreadyReserved] != 1 {
		t.Fatalf("unexpected reasons %+v", reasons)
	}
	if got := s.ByResource()["e1"]; got.OK != 2 || got.Rejected != 1 {
		t.Fatalf("expected e1 ok=2 rejected=1, got %+v", got)
	}
}

func TestMemoryStatsStore_ResourcesNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.OutcomeEvent{Op: domain.OpReserve, ResourceID: "e1", OK: true})

	if n := len(s.ByResource()); n != 0 {
		t.Fatalf("expected no per-resource counters, got %d", n)
	}
}

func TestMemoryStatsStore_Snapshot(t *testing.T) {
	s := NewMemoryStatsStore()
	ctx := context.Background()
	_ = s.Record(ctx, domain.OutcomeEvent{Op: domain.OpReserve, OK: true})
	_ = s.Record(ctx, domain.OutcomeEvent{Op: domain.OpCancel, Reason: domain.ReasonNotFound})

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ByOp[domain.OpReserve].OK != 1 || snap.ByOp[domain.OpCancel].Rejected != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.ByReason[domain.ReasonNotFound] != 1 {
		t.Fatalf("expected NOT_FOUND=1, got %+v", snap.ByReason)
	}
}

func newTestRedisStats(t *testing.T, cfg RedisStatsConfig) *RedisStatsStore {
	t.Helper()
	_, rdb := newTestRedis(t)
	s, err := NewRedisStatsStore(rdb, cfg)
	if err != nil {
		t.Fatalf("new redis stats: %v", err)
	}
	return s
}

func TestRedisStatsStore_WritesTotalsBucketsAndResources(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s, err := NewRedisStatsStore(rdb, RedisStatsConfig{Prefix: "stats:", TrackResources: true, TTL: time.Hour})
	if err != nil {
		t.Fatalf("new redis stats: %v", err)
	}
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	_ = s.Record(ctx, domain.OutcomeEvent{Op: domain.OpReserve, ResourceID: "e1", OK: true, At: at})
	_ = s.Record(ctx, domain.OutcomeEvent{Op: domain.OpReserve, ResourceID: "e1", Reason: domain.ReasonCapacityExceeded, At: at})
	if err := s.Record(ctx, domain.OutcomeEvent{Op: domain.OpCancel, ResourceID: "e1", Reason: domain.ReasonAlreadyCancelled, At: at}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if got := mr.HGet("stats:total", "reserve:ok"); got != "1" {
		t.Fatalf("expected reserve:ok=1, got %q", got)
	}
	if got := mr.HGet("stats:total", "reserve:CAPACITY_EXCEEDED"); got != "1" {
		t.Fatalf("expected reserve:CAPACITY_EXCEEDED=1, got %q", got)
	}
	if got := mr.HGet("stats:minute:202603011230", "cancel:ALREADY_CANCELLED"); got != "1" {
		t.Fatalf("expected minute bucket counter, got %q", got)
	}
	if ttl := mr.TTL("stats:minute:202603011230"); ttl != time.Hour {
		t.Fatalf("expected bucket ttl=1h, got %s", ttl)
	}
	if got := mr.HGet("stats:resource:e1", "reserve:ok"); got != "1" {
		t.Fatalf("expected per-resource counter, got %q", got)
	}
	if ttl := mr.TTL("stats:total"); ttl != 0 {
		t.Fatalf("expected total to never expire, got ttl=%s", ttl)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got := snap.ByOp[domain.OpReserve]; got.OK != 1 || got.Rejected != 1 {
		t.Fatalf("expected reserve ok=1 rejected=1, got %+v", got)
	}
	if snap.ByReason[domain.ReasonAlreadyCancelled] != 1 || snap.ByReason[domain.ReasonCapacityExceeded] != 1 {
		t.Fatalf("unexpected reasons %+v", snap.ByReason)
	}
}

func TestRedisStatsStore_HourBucket(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s, err := NewRedisStatsStore(rdb, RedisStatsConfig{Bucket: "HOUR"})
	if err != nil {
		t.Fatalf("new redis stats: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if err := s.Record(context.Background(), domain.OutcomeEvent{Op: domain.OpReserve, OK: true, At: at}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := mr.HGet("reservation:stats:hour:2026030112", "reserve:ok"); got != "1" {
		t.Fatalf("expected hour bucket counter, got %q", got)
	}
	// sem TTL configurado a série não expira
	if ttl := mr.TTL("reservation:stats:hour:2026030112"); ttl != 0 {
		t.Fatalf("expected no ttl, got %s", ttl)
	}
}

func TestRedisStatsStore_NoBucket(t *testing.T) {
	s := newTestRedisStats(t, RedisStatsConfig{Bucket: "none"})

	if err := s.Record(context.Background(), domain.OutcomeEvent{Op: domain.OpReserve, OK: true}); err != nil {
		t.Fatalf("record: %v", err)
	}
	keys, err := s.rdb.Keys(context.Background(), "*").Result()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "reservation:stats:total" {
		t.Fatalf("expected only the total key, found %v", keys)
	}
}

func TestRedisStatsStore_RejectsUnknownBucket(t *testing.T) {
	_, rdb := newTestRedis(t)
	if _, err := NewRedisStatsStore(rdb, RedisStatsConfig{Bucket: "week"}); err == nil {
		t.Fatalf("expected error for unknown bucket")
	}
}
