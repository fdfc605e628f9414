package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"reservation-gateway/reservation/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStore guarda Capacity Store + Ledger no Redis.
//
// Cada tentativa roda como transação otimista: WATCH nas chaves do recurso
// (hash de capacidade e índice de ativas), leitura, e MULTI/EXEC com as escritas.
// Se outra tentativa mexer nas mesmas chaves no meio, o EXEC é abortado
// (redis.TxFailedErr) e o resultado vira domain.ErrTransientConflict.
// Nunca bloqueia esperando outro recurso.
//
// Chaves (prefixo padrão "reservation"):
//
//	<prefix>:resource:<id>       hash {total, filled}
//	<prefix>:active:<id>         hash {userID -> reservationID}
//	<prefix>:reservation:<id>    hash {user, resource, state, created_at, cancelled_at}
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

type RedisStoreOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "reservation",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) resourceKey(id domain.ResourceID) string {
	return s.prefix + ":resource:" + string(id)
}

func (s *RedisStore) activeKey(id domain.ResourceID) string {
	return s.prefix + ":active:" + string(id)
}

func (s *RedisStore) reservationKey(id domain.ReservationID) string {
	return s.prefix + ":reservation:" + string(id)
}

// EnsureResource grava total uma única vez (HSETNX); filled ausente vale 0.
func (s *RedisStore) EnsureResource(ctx context.Context, id domain.ResourceID, total int) (domain.Resource, error) {
	if total < 0 {
		return domain.Resource{}, fmt.Errorf("resource %s: total must be >= 0, got %d", id, total)
	}
	if err := s.rdb.HSetNX(ctx, s.resourceKey(id), "total", total).Err(); err != nil {
		return domain.Resource{}, fmt.Errorf("ensure resource %s: %w", id, err)
	}
	return s.Resource(ctx, id)
}

func (s *RedisStore) Resource(ctx context.Context, id domain.ResourceID) (domain.Resource, error) {
	return readResource(ctx, s.rdb, s.resourceKey(id), id)
}

func (s *RedisStore) Reservation(ctx context.Context, id domain.ReservationID) (domain.Reservation, error) {
	return readReservation(ctx, s.rdb, s.reservationKey(id), id)
}

func (s *RedisStore) ActiveReservation(ctx context.Context, user domain.UserID, resource domain.ResourceID) (domain.Reservation, error) {
	id, err := s.rdb.HGet(ctx, s.activeKey(resource), string(user)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("get active reservation: %w", err)
	}
	return s.Reservation(ctx, domain.ReservationID(id))
}

func (s *RedisStore) InResource(ctx context.Context, id domain.ResourceID, fn func(domain.Tx) error) error {
	return s.watch(ctx, fn, s.resourceKey(id), s.activeKey(id))
}

func (s *RedisStore) InReservation(ctx context.Context, id domain.ReservationID, fn func(domain.Tx) error) error {
	// resource da reserva é imutável, então pode ser lido antes do WATCH.
	resource, err := s.rdb.HGet(ctx, s.reservationKey(id), "resource").Result()
	if errors.Is(err, redis.Nil) {
		return fn(&redisTx{store: s})
	}
	if err != nil {
		return fmt.Errorf("get reservation %s: %w", id, err)
	}
	rid := domain.ResourceID(resource)
	return s.watch(ctx, fn, s.reservationKey(id), s.resourceKey(rid), s.activeKey(rid))
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) watch(ctx context.Context, fn func(domain.Tx) error, keys ...string) error {
	err := s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
		t := &redisTx{
			store:   s,
			rtx:     rtx,
			deltas:  make(map[domain.ResourceID]int),
			cancels: make(map[domain.ReservationID]domain.Reservation),
		}
		if err := fn(t); err != nil {
			return err
		}
		if t.empty() {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			t.flush(ctx, pipe)
			return nil
		})
		return err
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("optimistic transaction aborted: %w", domain.ErrTransientConflict)
	}
	return err
}

// redisTx lê através da conexão em WATCH e acumula as escritas para o MULTI/EXEC.
type redisTx struct {
	store *RedisStore
	rtx   *redis.Tx

	deltas  map[domain.ResourceID]int
	inserts []domain.Reservation
	cancels map[domain.ReservationID]domain.Reservation
}

func (t *redisTx) empty() bool {
	return len(t.deltas) == 0 && len(t.inserts) == 0 && len(t.cancels) == 0
}

func (t *redisTx) Resource(ctx context.Context, id domain.ResourceID) (domain.Resource, error) {
	if t.rtx == nil {
		return domain.Resource{}, domain.ErrResourceNotFound
	}
	r, err := readResource(ctx, t.rtx, t.store.resourceKey(id), id)
	if err != nil {
		return domain.Resource{}, err
	}
	r.Filled += t.deltas[id]
	return r, nil
}

func (t *redisTx) Reservation(ctx context.Context, id domain.ReservationID) (domain.Reservation, error) {
	if t.rtx == nil {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if r, ok := t.cancels[id]; ok {
		return r, nil
	}
	for _, r := range t.inserts {
		if r.ID == id {
			return r, nil
		}
	}
	return readReservation(ctx, t.rtx, t.store.reservationKey(id), id)
}

func (t *redisTx) TryAdjust(ctx context.Context, id domain.ResourceID, delta int) (bool, error) {
	r, err := t.Resource(ctx, id)
	if err != nil {
		return false, err
	}
	next := r.Filled + delta
	if next < 0 || next > r.Total {
		return false, nil
	}
	t.deltas[id] += delta
	return true, nil
}

func (t *redisTx) TryInsertActive(ctx context.Context, r domain.Reservation) error {
	if t.rtx == nil {
		return domain.ErrResourceNotFound
	}
	existing, err := t.rtx.HGet(ctx, t.store.activeKey(r.ResourceID), string(r.UserID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return fmt.Errorf("check active reservation: %w", err)
	default:
		if _, cancelled := t.cancels[domain.ReservationID(existing)]; !cancelled {
			return domain.ErrAlreadyReserved
		}
	}
	for _, pending := range t.inserts {
		if pending.UserID == r.UserID && pending.ResourceID == r.ResourceID {
			return domain.ErrAlreadyReserved
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.store.now().UTC()
	}
	r.State = domain.StateActive
	t.inserts = append(t.inserts, r)
	return nil
}

func (t *redisTx) MarkCancelled(ctx context.Context, id domain.ReservationID) (domain.Reservation, error) {
	r, err := t.Reservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !r.Active() {
		return domain.Reservation{}, domain.ErrAlreadyCancelled
	}
	r.State = domain.StateCancelled
	r.CancelledAt = t.store.now().UTC()
	t.cancels[id] = r
	return r, nil
}

func (t *redisTx) flush(ctx context.Context, pipe redis.Pipeliner) {
	for id, delta := range t.deltas {
		if delta != 0 {
			pipe.HIncrBy(ctx, t.store.resourceKey(id), "filled", int64(delta))
		}
	}
	for id, r := range t.cancels {
		pipe.HSet(ctx, t.store.reservationKey(id),
			"state", string(domain.StateCancelled),
			"cancelled_at", r.CancelledAt.UnixMilli(),
		)
		pipe.HDel(ctx, t.store.activeKey(r.ResourceID), string(r.UserID))
	}
	for _, r := range t.inserts {
		pipe.HSet(ctx, t.store.reservationKey(r.ID),
			"user", string(r.UserID),
			"resource", string(r.ResourceID),
			"state", string(domain.StateActive),
			"created_at", r.CreatedAt.UnixMilli(),
		)
		pipe.HSet(ctx, t.store.activeKey(r.ResourceID), string(r.UserID), string(r.ID))
	}
}

// hashReader é o que redis.Client e redis.Tx têm em comum para leitura.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readResource(ctx context.Context, c hashReader, key string, id domain.ResourceID) (domain.Resource, error) {
	fields, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Resource{}, fmt.Errorf("get resource %s: %w", id, err)
	}
	rawTotal, ok := fields["total"]
	if !ok {
		return domain.Resource{}, domain.ErrResourceNotFound
	}
	total, err := strconv.Atoi(rawTotal)
	if err != nil {
		return domain.Resource{}, fmt.Errorf("resource %s: invalid total %q: %w", id, rawTotal, err)
	}
	filled := 0
	if raw, ok := fields["filled"]; ok {
		if filled, err = strconv.Atoi(raw); err != nil {
			return domain.Resource{}, fmt.Errorf("resource %s: invalid filled %q: %w", id, raw, err)
		}
	}
	return domain.Resource{ID: id, Total: total, Filled: filled}, nil
}

func readReservation(ctx context.Context, c hashReader, key string, id domain.ReservationID) (domain.Reservation, error) {
	fields, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("get reservation %s: %w", id, err)
	}
	if len(fields) == 0 {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	r := domain.Reservation{
		ID:         id,
		UserID:     domain.UserID(fields["user"]),
		ResourceID: domain.ResourceID(fields["resource"]),
		State:      domain.State(fields["state"]),
	}
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		r.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if raw, ok := fields["cancelled_at"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			r.CancelledAt = time.UnixMilli(ms).UTC()
		}
	}
	return r, nil
}
