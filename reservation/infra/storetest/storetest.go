// Package storetest reúne os cenários que toda implementação de domain.Store
// precisa passar (memória, SQLite, Redis). Cada backend chama Run no próprio teste.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"reservation-gateway/reservation/application"
	"reservation-gateway/reservation/domain"
)

// Factory devolve um Store vazio e isolado para um subteste.
type Factory func(t *testing.T) domain.Store

func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("EnsureResourceKeepsExisting", func(t *testing.T) { ensureResourceKeepsExisting(t, newStore(t)) })
	t.Run("CapacityIsExact", func(t *testing.T) { capacityIsExact(t, newStore(t)) })
	t.Run("OneActivePerUser", func(t *testing.T) { oneActivePerUser(t, newStore(t)) })
	t.Run("CancelThenReserveAgain", func(t *testing.T) { cancelThenReserveAgain(t, newStore(t)) })
	t.Run("DoubleCancel", func(t *testing.T) { doubleCancel(t, newStore(t)) })
	t.Run("UnknownIDs", func(t *testing.T) { unknownIDs(t, newStore(t)) })
	t.Run("ZeroCapacity", func(t *testing.T) { zeroCapacity(t, newStore(t)) })
	t.Run("FailedTxWritesNothing", func(t *testing.T) { failedTxWritesNothing(t, newStore(t)) })
	t.Run("CallerGoneBeforeCommit", func(t *testing.T) { callerGoneBeforeCommit(t, newStore(t)) })
	t.Run("ConcurrentReserveNeverOverfills", func(t *testing.T) { concurrentReserveNeverOverfills(t, newStore(t)) })
	t.Run("ConcurrentSameUser", func(t *testing.T) { concurrentSameUser(t, newStore(t)) })
	t.Run("ConcurrentCancel", func(t *testing.T) { concurrentCancel(t, newStore(t)) })
}

func service(store domain.Store) application.Service {
	// backends otimistas (Redis) abortam com frequência sob disputa; aqui o
	// interesse é a contagem final, não o limite de tentativas.
	return application.Service{
		Store:          store,
		MaxAttempts:    200,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func mustEnsure(t *testing.T, store domain.Store, id domain.ResourceID, total int) {
	t.Helper()
	if _, err := store.EnsureResource(context.Background(), id, total); err != nil {
		t.Fatalf("ensure resource %s: %v", id, err)
	}
}

func mustReserve(t *testing.T, svc application.Service, user domain.UserID, resource domain.ResourceID) domain.ReservationID {
	t.Helper()
	out, err := svc.Reserve(context.Background(), user, resource)
	if err != nil {
		t.Fatalf("reserve %s/%s: %v", user, resource, err)
	}
	if !out.OK || out.ReservationID == "" {
		t.Fatalf("expected reservation for %s, got %+v", user, out)
	}
	return out.ReservationID
}

func expectFilled(t *testing.T, store domain.Store, id domain.ResourceID, filled int) {
	t.Helper()
	res, err := store.Resource(context.Background(), id)
	if err != nil {
		t.Fatalf("read resource %s: %v", id, err)
	}
	if res.Filled != filled {
		t.Fatalf("expected filled=%d, got %d (total=%d)", filled, res.Filled, res.Total)
	}
	if res.Filled < 0 || res.Filled > res.Total {
		t.Fatalf("expected 0 <= filled <= total, got filled=%d total=%d", res.Filled, res.Total)
	}
}

func ensureResourceKeepsExisting(t *testing.T, store domain.Store) {
	ctx := context.Background()
	res, err := store.EnsureResource(ctx, "show", 2)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if res.Total != 2 || res.Filled != 0 {
		t.Fatalf("expected total=2 filled=0, got %+v", res)
	}
	mustReserve(t, service(store), "u1", "show")

	res, err = store.EnsureResource(ctx, "show", 10)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if res.Total != 2 || res.Filled != 1 {
		t.Fatalf("expected existing resource untouched, got %+v", res)
	}
}

func capacityIsExact(t *testing.T, store domain.Store) {
	mustEnsure(t, store, "e1", 3)
	svc := service(store)

	ok, full := 0, 0
	for i := 1; i <= 5; i++ {
		out, err := svc.Reserve(context.Background(), domain.UserID(fmt.Sprintf("u%d", i)), "e1")
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		switch {
		case out.OK:
			ok++
		case out.Reason == domain.ReasonCapacityExceeded:
			full++
		default:
			t.Fatalf("unexpected outcome %+v", out)
		}
	}
	if ok != 3 || full != 2 {
		t.Fatalf("expected 3 ok and 2 capacity exceeded, got ok=%d full=%d", ok, full)
	}
	expectFilled(t, store, "e1", 3)
}

func oneActivePerUser(t *testing.T, store domain.Store) {
	mustEnsure(t, store, "e1", 5)
	svc := service(store)
	first := mustReserve(t, svc, "alice", "e1")

	out, err := svc.Reserve(context.Background(), "alice", "e1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if out.OK || out.Reason != domain.ReasonAlreadyReserved {
		t.Fatalf("expected ALREADY_RESERVED, got %+v", out)
	}
	expectFilled(t, store, "e1", 1)

	active, err := store.ActiveReservation(context.Background(), "alice", "e1")
	if err != nil {
		t.Fatalf("active reservation: %v", err)
	}
	if active.ID != first || !active.Active() {
		t.Fatalf("expected active reservation %s, got %+v", first, active)
	}
}

func cancelThenReserveAgain(t *testing.T, store domain.Store) {
	mustEnsure(t, store, "e1", 1)
	svc := service(store)
	first := mustReserve(t, svc, "alice", "e1")

	out, err := svc.Cancel(context.Background(), first)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected cancel ok, got %+v", out)
	}
	expectFilled(t, store, "e1", 0)

	old, err := store.Reservation(context.Background(), first)
	if err != nil {
		t.Fatalf("read cancelled reservation: %v", err)
	}
	if old.State != domain.StateCancelled || old.CancelledAt.IsZero() {
		t.Fatalf("expected CANCELLED with timestamp, got %+v", old)
	}
	if _, err := store.ActiveReservation(context.Background(), "alice", "e1"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected no active reservation, got %v", err)
	}

	second := mustReserve(t, svc, "alice", "e1")
	if second == first {
		t.Fatalf("expected a new reservation id, got the cancelled one again")
	}
	expectFilled(t, store, "e1", 1)
}

func doubleCancel(t *testing.T, store domain.Store) {
	mustEnsure(t, store, "e1", 2)
	svc := service(store)
	mustReserve(t, svc, "bob", "e1")
	id := mustReserve(t, svc, "alice", "e1")

	if out, err := svc.Cancel(context.Background(), id); err != nil || !out.OK {
		t.Fatalf("expected first cancel ok, got %+v err=%v", out, err)
	}
	out, err := svc.Cancel(context.Background(), id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.OK || out.Reason != domain.ReasonAlreadyCancelled {
		t.Fatalf("expected ALREADY_CANCELLED, got %+v", out)
	}
	expectFilled(t, store, "e1", 1)
}

func unknownIDs(t *testing.T, store domain.Store) {
	svc := service(store)

	out, err := svc.Reserve(context.Background(), "alice", "missing")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if out.OK || out.Reason != domain.ReasonResourceNotFound {
		t.Fatalf("expected RESOURCE_NOT_FOUND, got %+v", out)
	}

	cout, err := svc.Cancel(context.Background(), "missing")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cout.OK || cout.Reason != domain.ReasonNotFound {
		t.Fatalf("expected NOT_FOUND, got %+v", cout)
	}

	if _, err := store.Resource(context.Background(), "missing"); !errors.Is(err, domain.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
	if _, err := store.Reservation(context.Background(), "missing"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func zeroCapacity(t *testing.T, store domain.Store) {
	mustEnsure(t, store, "closed", 0)
	out, err := service(store).Reserve(context.Background(), "alice", "closed")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if out.OK || out.Reason != domain.ReasonCapacityExceeded {
		t.Fatalf("expected CAPACITY_EXCEEDED, got %+v", out)
	}
	expectFilled(t, store, "closed", 0)
	if _, err := store.ActiveReservation(context.Background(), "alice", "closed"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected no ledger row after rejection, got %v", err)
	}
}

func failedTxWritesNothing(t *testing.T, store domain.Store) {
	mustEnsure(t, store, "e1", 2)
	boom := errors.New("boom")

	err := store.InResource(context.Background(), "e1", func(tx domain.Tx) error {
		if err := tx.TryInsertActive(context.Background(), domain.Reservation{
			ID:         "r-rolled-back",
			UserID:     "alice",
			ResourceID: "e1",
			State:      domain.StateActive,
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		if ok, err := tx.TryAdjust(context.Background(), "e1", 1); err != nil || !ok {
			return fmt.Errorf("adjust: ok=%v err=%v", ok, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	expectFilled(t, store, "e1", 0)
	if _, err := store.Reservation(context.Background(), "r-rolled-back"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected rolled back reservation to be absent, got %v", err)
	}
}

// callerGoneBeforeCommit cancela o ctx depois das escritas e antes do commit.
// Cada backend decide se ainda comita; o que não pode é ficar pela metade:
// err == nil exige tudo gravado, err != nil exige nada gravado.
func callerGoneBeforeCommit(t *testing.T, store domain.Store) {
	mustEnsure(t, store, "e1", 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := store.InResource(ctx, "e1", func(tx domain.Tx) error {
		if err := tx.TryInsertActive(ctx, domain.Reservation{
			ID:         "r-late",
			UserID:     "alice",
			ResourceID: "e1",
			State:      domain.StateActive,
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		if ok, err := tx.TryAdjust(ctx, "e1", 1); err != nil || !ok {
			return fmt.Errorf("adjust: ok=%v err=%v", ok, err)
		}
		cancel()
		return nil
	})

	bg := context.Background()
	if err == nil {
		expectFilled(t, store, "e1", 1)
		r, rerr := store.Reservation(bg, "r-late")
		if rerr != nil || !r.Active() {
			t.Fatalf("expected committed reservation to be active, got %+v %v", r, rerr)
		}
		if _, aerr := store.ActiveReservation(bg, "alice", "e1"); aerr != nil {
			t.Fatalf("expected committed reservation in active index, got %v", aerr)
		}
		return
	}

	expectFilled(t, store, "e1", 0)
	if _, rerr := store.Reservation(bg, "r-late"); !errors.Is(rerr, domain.ErrReservationNotFound) {
		t.Fatalf("expected aborted reservation to be absent (commit err %v), got %v", err, rerr)
	}
	if _, aerr := store.ActiveReservation(bg, "alice", "e1"); !errors.Is(aerr, domain.ErrReservationNotFound) {
		t.Fatalf("expected no active reservation after abort, got %v", aerr)
	}
	// nada ficou preso: o mesmo usuário reserva de novo normalmente
	mustReserve(t, service(store), "alice", "e1")
	expectFilled(t, store, "e1", 1)
}

func concurrentReserveNeverOverfills(t *testing.T, store domain.Store) {
	const capacity, users = 7, 40
	mustEnsure(t, store, "hot", capacity)
	svc := service(store)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		full int
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := svc.Reserve(context.Background(), domain.UserID(fmt.Sprintf("u%d", i)), "hot")
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.OK:
				ok++
			case out.Reason == domain.ReasonCapacityExceeded:
				full++
			default:
				t.Errorf("unexpected outcome %+v", out)
			}
		}(i)
	}
	wg.Wait()

	if ok != capacity || full != users-capacity {
		t.Fatalf("expected %d ok and %d full, got ok=%d full=%d", capacity, users-capacity, ok, full)
	}
	expectFilled(t, store, "hot", capacity)
}

func concurrentSameUser(t *testing.T, store domain.Store) {
	mustEnsure(t, store, "e1", 10)
	svc := service(store)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ok  int
		dup int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Reserve(context.Background(), "alice", "e1")
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if out.OK {
				ok++
			} else if out.Reason == domain.ReasonAlreadyReserved {
				dup++
			} else {
				t.Errorf("unexpected outcome %+v", out)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dup != 19 {
		t.Fatalf("expected exactly one success, got ok=%d dup=%d", ok, dup)
	}
	expectFilled(t, store, "e1", 1)
}

func concurrentCancel(t *testing.T, store domain.Store) {
	mustEnsure(t, store, "e1", 3)
	svc := service(store)
	mustReserve(t, svc, "bob", "e1")
	id := mustReserve(t, svc, "alice", "e1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Cancel(context.Background(), id)
			if err != nil {
				t.Errorf("cancel: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if out.OK {
				ok++
			} else if out.Reason == domain.ReasonAlreadyCancelled {
				already++
			} else {
				t.Errorf("unexpected outcome %+v", out)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || already != 9 {
		t.Fatalf("expected one cancel to win, got ok=%d already=%d", ok, already)
	}
	expectFilled(t, store, "e1", 1)
}
