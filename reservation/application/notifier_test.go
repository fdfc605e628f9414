package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reservation-gateway/reservation/domain"
)

// gatedSink avisa quando uma entrega começou e só termina quando liberado.
type gatedSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu  sync.Mutex
	got []domain.Notification
}

func newGatedSink() *gatedSink {
	return &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedSink) Notify(ctx context.Context, ev domain.Notification) error {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return nil
}

func (s *gatedSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestAsyncNotifier_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := &recordingNotifier{}
	n := NewAsyncNotifier(sink, 8)

	for _, id := range []domain.ReservationID{"r1", "r2", "r3"} {
		if err := n.Notify(context.Background(), domain.Notification{Kind: domain.ReservationCreated, ReservationID: id}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := sink.all()
	if len(got) != 3 || got[0].ReservationID != "r1" || got[2].ReservationID != "r3" {
		t.Fatalf("expected r1..r3 delivered in order, got %+v", got)
	}
}

func TestAsyncNotifier_FullQueueDropsWithoutBlocking(t *testing.T) {
	sink := newGatedSink()
	n := NewAsyncNotifier(sink, 1)

	if err := n.Notify(context.Background(), domain.Notification{ReservationID: "r1"}); err != nil {
		t.Fatalf("notify r1: %v", err)
	}
	<-sink.started // worker está preso em r1

	if err := n.Notify(context.Background(), domain.Notification{ReservationID: "r2"}); err != nil {
		t.Fatalf("notify r2: %v", err)
	}

	start := time.Now()
	err := n.Notify(context.Background(), domain.Notification{ReservationID: "r3"})
	if !errors.Is(err, ErrNotifierQueueFull) {
		t.Fatalf("expected ErrNotifierQueueFull, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("expected Notify not to block")
	}

	close(sink.release)
	_ = n.Close()
	if got := sink.count(); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
}

func TestAsyncNotifier_NotifyAfterClose(t *testing.T) {
	n := NewAsyncNotifier(&recordingNotifier{}, 1)
	_ = n.Close()
	_ = n.Close()

	if err := n.Notify(context.Background(), domain.Notification{}); !errors.Is(err, ErrNotifierClosed) {
		t.Fatalf("expected ErrNotifierClosed, got %v", err)
	}
}

func TestAsyncNotifier_DeliveryTimeout(t *testing.T) {
	sink := newGatedSink()
	n := NewAsyncNotifier(sink, 1, WithDeliveryTimeout(10*time.Millisecond))

	_ = n.Notify(context.Background(), domain.Notification{ReservationID: "r1"})
	done := make(chan struct{})
	go func() {
		_ = n.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Close to return once the delivery timed out")
	}
	if got := sink.count(); got != 0 {
		t.Fatalf("expected timed out delivery not to be recorded, got %d", got)
	}
}
