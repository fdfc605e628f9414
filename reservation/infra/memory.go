package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reservation-gateway/reservation/domain"
)

// MemoryStore é uma implementação em memória do Capacity Store + Ledger.
//
// Cada recurso tem a própria trava (SlotPool de uma vaga); tentativas em recursos diferentes
// nunca esperam umas pelas outras. O mutex global só protege os índices
// (recurso por id, recurso por reserva) e é mantido por instantes.
//
// Útil para testes, desenvolvimento e instância única. Não é durável.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[domain.ResourceID]*memResource
	index     map[domain.ReservationID]domain.ResourceID

	lockTimeout time.Duration
	now         func() time.Time
}

// memResource só é lido ou escrito com lock adquirido.
type memResource struct {
	lock         *SlotPool
	total        int
	filled       int
	active       map[domain.UserID]domain.ReservationID
	reservations map[domain.ReservationID]domain.Reservation
}

type MemoryOption func(*MemoryStore)

// WithLockTimeout limita a espera pela trava do recurso. 0 espera até o ctx encerrar.
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.lockTimeout = d }
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		resources:   make(map[domain.ResourceID]*memResource),
		index:       make(map[domain.ReservationID]domain.ResourceID),
		lockTimeout: 2 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) EnsureResource(ctx context.Context, id domain.ResourceID, total int) (domain.Resource, error) {
	if total < 0 {
		return domain.Resource{}, fmt.Errorf("resource %s: total must be >= 0, got %d", id, total)
	}

	s.mu.Lock()
	res, ok := s.resources[id]
	if !ok {
		res = &memResource{
			lock:         NewSlotPool(1),
			total:        total,
			active:       make(map[domain.UserID]domain.ReservationID),
			reservations: make(map[domain.ReservationID]domain.Reservation),
		}
		s.resources[id] = res
	}
	s.mu.Unlock()

	return s.snapshot(ctx, id, res)
}

func (s *MemoryStore) Resource(ctx context.Context, id domain.ResourceID) (domain.Resource, error) {
	res := s.lookup(id)
	if res == nil {
		return domain.Resource{}, domain.ErrResourceNotFound
	}
	return s.snapshot(ctx, id, res)
}

func (s *MemoryStore) Reservation(ctx context.Context, id domain.ReservationID) (domain.Reservation, error) {
	var out domain.Reservation
	err := s.InReservation(ctx, id, func(tx domain.Tx) error {
		r, err := tx.Reservation(ctx, id)
		out = r
		return err
	})
	return out, err
}

func (s *MemoryStore) ActiveReservation(ctx context.Context, user domain.UserID, resource domain.ResourceID) (domain.Reservation, error) {
	res := s.lookup(resource)
	if res == nil {
		return domain.Reservation{}, domain.ErrResourceNotFound
	}
	release, err := res.lock.Acquire(ctx, s.lockTimeout)
	if err != nil {
		return domain.Reservation{}, err
	}
	defer release()

	id, ok := res.active[user]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return res.reservations[id], nil
}

func (s *MemoryStore) InResource(ctx context.Context, id domain.ResourceID, fn func(domain.Tx) error) error {
	return s.run(ctx, id, s.lookup(id), fn)
}

func (s *MemoryStore) InReservation(ctx context.Context, id domain.ReservationID, fn func(domain.Tx) error) error {
	s.mu.RLock()
	resourceID, ok := s.index[id]
	var res *memResource
	if ok {
		res = s.resources[resourceID]
	}
	s.mu.RUnlock()

	return s.run(ctx, resourceID, res, fn)
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) lookup(id domain.ResourceID) *memResource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resources[id]
}

func (s *MemoryStore) snapshot(ctx context.Context, id domain.ResourceID, res *memResource) (domain.Resource, error) {
	release, err := res.lock.Acquire(ctx, s.lockTimeout)
	if err != nil {
		return domain.Resource{}, err
	}
	defer release()
	return domain.Resource{ID: id, Total: res.total, Filled: res.filled}, nil
}

// run executa fn com a trava do recurso e aplica as escritas bufferizadas
// somente se fn retornar nil.
func (s *MemoryStore) run(ctx context.Context, id domain.ResourceID, res *memResource, fn func(domain.Tx) error) error {
	tx := &memTx{
		store:   s,
		id:      id,
		res:     res,
		cancels: make(map[domain.ReservationID]domain.Reservation),
	}
	if res == nil {
		// nada para travar: o Tx responde NotFound em todas as leituras.
		return fn(tx)
	}

	release, err := res.lock.Acquire(ctx, s.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	if err := fn(tx); err != nil {
		return err
	}
	// commit só se o chamador ainda estiver esperando.
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	store *MemoryStore
	id    domain.ResourceID
	res   *memResource

	delta   int
	inserts []domain.Reservation
	cancels map[domain.ReservationID]domain.Reservation
}

func (t *memTx) Resource(_ context.Context, id domain.ResourceID) (domain.Resource, error) {
	if t.res == nil || id != t.id {
		return domain.Resource{}, domain.ErrResourceNotFound
	}
	return domain.Resource{ID: id, Total: t.res.total, Filled: t.res.filled + t.delta}, nil
}

func (t *memTx) Reservation(_ context.Context, id domain.ReservationID) (domain.Reservation, error) {
	if t.res == nil {
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
	r, ok := t.res.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return r, nil
}

func (t *memTx) TryAdjust(_ context.Context, id domain.ResourceID, delta int) (bool, error) {
	if t.res == nil || id != t.id {
		return false, domain.ErrResourceNotFound
	}
	next := t.res.filled + t.delta + delta
	if next < 0 || next > t.res.total {
		return false, nil
	}
	t.delta += delta
	return true, nil
}

func (t *memTx) TryInsertActive(_ context.Context, r domain.Reservation) error {
	if t.res == nil || r.ResourceID != t.id {
		return domain.ErrResourceNotFound
	}
	if existing, ok := t.res.active[r.UserID]; ok {
		if _, cancelled := t.cancels[existing]; !cancelled {
			return domain.ErrAlreadyReserved
		}
	}
	for _, pending := range t.inserts {
		if pending.UserID == r.UserID {
			return domain.ErrAlreadyReserved
		}
	}
	r.State = domain.StateActive
	t.inserts = append(t.inserts, r)
	return nil
}

func (t *memTx) MarkCancelled(ctx context.Context, id domain.ReservationID) (domain.Reservation, error) {
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

func (t *memTx) commit() {
	t.res.filled += t.delta

	for id, r := range t.cancels {
		t.res.reservations[id] = r
		if t.res.active[r.UserID] == id {
			delete(t.res.active, r.UserID)
		}
	}
	if len(t.inserts) == 0 {
		return
	}
	for _, r := range t.inserts {
		t.res.reservations[r.ID] = r
		t.res.active[r.UserID] = r.ID
	}

	t.store.mu.Lock()
	for _, r := range t.inserts {
		t.store.index[r.ID] = r.ResourceID
	}
	t.store.mu.Unlock()
}
