package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reservation-gateway/reservation/domain"
)

// SlotPool é um semáforo baseado em channel com capacidade fixa.
//
// Com capacidade 1 é o ponto de serialização de um recurso no MemoryStore;
// com capacidade maior limita requisições em andamento no adapter HTTP.
type SlotPool struct {
	sem chan struct{}
}

// NewSlotPool cria um pool com `max` vagas (mínimo 1).
func NewSlotPool(max int) *SlotPool {
	if max < 1 {
		max = 1
	}
	return &SlotPool{sem: make(chan struct{}, max)}
}

func (p *SlotPool) Cap() int { return cap(p.sem) }

// Acquire espera uma vaga até timeout (ou até o ctx encerrar).
// - timeout <= 0: espera até o ctx cancelar.
// - estourou o timeout: domain.ErrTransientConflict (o chamador pode tentar de novo).
// - ctx do chamador cancelado: devolve ctx.Err(), nada foi adquirido.
//
// O release devolvido deve ser chamado exatamente uma vez.
func (p *SlotPool) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	acqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, nil
	case <-acqCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if errors.Is(acqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("slot not acquired within %s: %w", timeout, domain.ErrTransientConflict)
		}
		return nil, acqCtx.Err()
	}
}
