package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reservation-gateway/reservation/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "reservation-gateway/reservation"

// Service concentra as regras de reserva e cancelamento.
//
// Ele não sabe nada sobre HTTP nem sobre o banco: cada operação é UMA chamada ao
// UnitOfWork, e a checagem (existe? já reservou? tem vaga?) acontece dentro dela,
// junto com a escrita.
type Service struct {
	Store    domain.UnitOfWork
	Notifier domain.Notifier // precisa ser assíncrono (ex.: AsyncNotifier)
	Stats    domain.StatsStore
	Logger   *zap.Logger
	Tracer   trace.Tracer

	// MaxAttempts limita as tentativas em ErrTransientConflict (inclui a primeira).
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	NewID func() domain.ReservationID
	Now   func() time.Time
}

func (s Service) withDefaults() Service {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.Tracer == nil {
		s.Tracer = otel.Tracer(tracerName)
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.InitialBackoff <= 0 {
		s.InitialBackoff = 10 * time.Millisecond
	}
	if s.MaxBackoff <= 0 {
		s.MaxBackoff = 200 * time.Millisecond
	}
	if s.NewID == nil {
		s.NewID = func() domain.ReservationID { return domain.ReservationID(uuid.NewString()) }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Reserve tenta criar uma reserva ACTIVE de user em resource.
//
// Recusas de negócio voltam no ReserveOutcome (err == nil). err != nil só para
// falha interna ou cancelamento do ctx; em ambos os casos nada foi gravado.
func (s Service) Reserve(ctx context.Context, user domain.UserID, resource domain.ResourceID) (domain.ReserveOutcome, error) {
	if s.Store == nil {
		return domain.ReserveOutcome{}, errors.New("reservation store is not configured")
	}
	s = s.withDefaults()

	ctx, span := s.Tracer.Start(ctx, "reservation.reserve", trace.WithAttributes(
		attribute.String("reservation.user_id", string(user)),
		attribute.String("reservation.resource_id", string(resource)),
	))
	defer span.End()

	var created domain.Reservation
	err := s.retry(ctx, func() error {
		return s.Store.InResource(ctx, resource, func(tx domain.Tx) error {
			if _, err := tx.Resource(ctx, resource); err != nil {
				return err
			}
			r := domain.Reservation{
				ID:         s.NewID(),
				UserID:     user,
				ResourceID: resource,
				State:      domain.StateActive,
				CreatedAt:  s.Now().UTC(),
			}
			if err := tx.TryInsertActive(ctx, r); err != nil {
				return err
			}
			ok, err := tx.TryAdjust(ctx, resource, 1)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrCapacityExceeded
			}
			created = r
			return nil
		})
	})

	reason, known := domain.ReasonFor(err)
	if !known {
		s.Logger.Error("reserve failed",
			zap.String("user_id", string(user)),
			zap.String("resource_id", string(resource)),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return domain.ReserveOutcome{}, fmt.Errorf("reserve %s: %w", resource, err)
	}

	out := domain.ReserveOutcome{OK: reason == domain.ReasonNone, Reason: reason}
	if out.OK {
		out.ReservationID = created.ID
	}
	span.SetAttributes(
		attribute.Bool("reservation.ok", out.OK),
		attribute.String("reservation.reason", string(out.Reason)),
	)
	s.record(ctx, domain.OpReserve, resource, out.OK, out.Reason)

	if !out.OK {
		s.Logger.Debug("reserve rejected",
			zap.String("user_id", string(user)),
			zap.String("resource_id", string(resource)),
			zap.String("reason", string(out.Reason)),
		)
		return out, nil
	}

	s.Logger.Info("reservation created",
		zap.String("reservation_id", string(created.ID)),
		zap.String("user_id", string(user)),
		zap.String("resource_id", string(resource)),
	)
	s.notify(ctx, domain.Notification{
		Kind:          domain.ReservationCreated,
		ResourceID:    resource,
		UserID:        user,
		ReservationID: created.ID,
		At:            created.CreatedAt,
	})
	return out, nil
}

// Cancel move a reserva para CANCELLED e devolve a vaga, atomicamente.
// Cancelar duas vezes devolve ALREADY_CANCELLED na segunda, sem mexer no contador.
func (s Service) Cancel(ctx context.Context, id domain.ReservationID) (domain.CancelOutcome, error) {
	if s.Store == nil {
		return domain.CancelOutcome{}, errors.New("reservation store is not configured")
	}
	s = s.withDefaults()

	ctx, span := s.Tracer.Start(ctx, "reservation.cancel", trace.WithAttributes(
		attribute.String("reservation.id", string(id)),
	))
	defer span.End()

	var cancelled domain.Reservation
	err := s.retry(ctx, func() error {
		return s.Store.InReservation(ctx, id, func(tx domain.Tx) error {
			r, err := tx.MarkCancelled(ctx, id)
			if err != nil {
				return err
			}
			ok, err := tx.TryAdjust(ctx, r.ResourceID, -1)
			if err != nil {
				return err
			}
			if !ok {
				// reserva ativa com filled == 0: estado inconsistente, não grava nada.
				return fmt.Errorf("resource %s: no filled slot for active reservation %s", r.ResourceID, id)
			}
			cancelled = r
			return nil
		})
	})

	reason, known := domain.ReasonFor(err)
	if !known {
		s.Logger.Error("cancel failed", zap.String("reservation_id", string(id)), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return domain.CancelOutcome{}, fmt.Errorf("cancel %s: %w", id, err)
	}

	out := domain.CancelOutcome{OK: reason == domain.ReasonNone, Reason: reason}
	span.SetAttributes(
		attribute.Bool("reservation.ok", out.OK),
		attribute.String("reservation.reason", string(out.Reason)),
	)
	s.record(ctx, domain.OpCancel, cancelled.ResourceID, out.OK, out.Reason)

	if !out.OK {
		s.Logger.Debug("cancel rejected",
			zap.String("reservation_id", string(id)),
			zap.String("reason", string(out.Reason)),
		)
		return out, nil
	}

	s.Logger.Info("reservation cancelled",
		zap.String("reservation_id", string(id)),
		zap.String("user_id", string(cancelled.UserID)),
		zap.String("resource_id", string(cancelled.ResourceID)),
	)
	s.notify(ctx, domain.Notification{
		Kind:          domain.ReservationCancelled,
		ResourceID:    cancelled.ResourceID,
		UserID:        cancelled.UserID,
		ReservationID: id,
		At:            cancelled.CancelledAt,
	})
	return out, nil
}

// retry repete op somente em ErrTransientConflict, com backoff exponencial,
// até MaxAttempts. Qualquer outro erro (inclusive os de negócio) encerra na hora.
func (s Service) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.InitialBackoff
	b.MaxInterval = s.MaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err == nil || errors.Is(err, domain.ErrTransientConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.MaxAttempts)))
	return err
}

func (s Service) record(ctx context.Context, op domain.Op, resource domain.ResourceID, ok bool, reason domain.Reason) {
	if s.Stats == nil {
		return
	}
	err := s.Stats.Record(ctx, domain.OutcomeEvent{
		Op:         op,
		ResourceID: resource,
		OK:         ok,
		Reason:     reason,
		At:         s.Now(),
	})
	if err != nil {
		s.Logger.Warn("record outcome stats", zap.Error(err))
	}
}

// notify roda depois do commit e nunca altera o resultado.
func (s Service) notify(ctx context.Context, n domain.Notification) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.Logger.Warn("schedule notification",
			zap.String("kind", string(n.Kind)),
			zap.String("reservation_id", string(n.ReservationID)),
			zap.Error(err),
		)
	}
}
