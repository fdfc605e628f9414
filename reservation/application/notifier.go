package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"reservation-gateway/reservation/domain"

	"go.uber.org/zap"
)

var (
	ErrNotifierQueueFull = errors.New("notifier queue full")
	ErrNotifierClosed    = errors.New("notifier closed")
)

// AsyncNotifier desacopla o caminho da reserva da entrega das notificações.
//
// Notify só enfileira (nunca bloqueia): com a fila cheia a notificação é
// descartada e ErrNotifierQueueFull volta para quem chamou registrar.
// Um worker entrega para o sink com timeout próprio por mensagem.
type AsyncNotifier struct {
	sink    domain.Notifier
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	in     chan domain.Notification
	done   chan struct{}
}

type AsyncOption func(*AsyncNotifier)

func WithDeliveryTimeout(d time.Duration) AsyncOption {
	return func(n *AsyncNotifier) { n.timeout = d }
}

func WithNotifierLogger(l *zap.Logger) AsyncOption {
	return func(n *AsyncNotifier) { n.logger = l }
}

// NewAsyncNotifier inicia o worker. Pare com Close.
func NewAsyncNotifier(sink domain.Notifier, queueSize int, opts ...AsyncOption) *AsyncNotifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	n := &AsyncNotifier{
		sink:    sink,
		logger:  zap.NewNop(),
		timeout: 5 * time.Second,
		in:      make(chan domain.Notification, queueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	go n.run()
	return n
}

func (n *AsyncNotifier) Notify(_ context.Context, ev domain.Notification) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}
	select {
	case n.in <- ev:
		return nil
	default:
		return ErrNotifierQueueFull
	}
}

// Close para de aceitar notificações, entrega o que já estava na fila e espera o worker.
func (n *AsyncNotifier) Close() error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.in)
	}
	n.mu.Unlock()
	<-n.done
	return nil
}

func (n *AsyncNotifier) run() {
	defer close(n.done)
	for ev := range n.in {
		n.deliver(ev)
	}
}

func (n *AsyncNotifier) deliver(ev domain.Notification) {
	if n.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.sink.Notify(ctx, ev); err != nil {
		n.logger.Warn("notification delivery failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("resource_id", string(ev.ResourceID)),
			zap.String("reservation_id", string(ev.ReservationID)),
			zap.Error(err),
		)
	}
}
