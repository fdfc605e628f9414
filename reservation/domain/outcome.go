package domain

import "errors"

// Erros de negócio. As implementações de armazenamento traduzem as falhas nativas
// (violação de unicidade, SQLITE_BUSY, TxFailedErr, timeout de lock) para estes valores.
var (
	ErrResourceNotFound    = errors.New("resource not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAlreadyReserved     = errors.New("already reserved")
	ErrAlreadyCancelled    = errors.New("already cancelled")
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrTransientConflict   = errors.New("transient conflict")
	ErrUnauthenticated     = errors.New("unauthenticated")
)

// Reason é o motivo tipado de uma tentativa recusada.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonResourceNotFound  Reason = "RESOURCE_NOT_FOUND"
	ReasonNotFound          Reason = "NOT_FOUND"
	ReasonAlreadyReserved   Reason = "ALREADY_RESERVED"
	ReasonAlreadyCancelled  Reason = "ALREADY_CANCELLED"
	ReasonCapacityExceeded  Reason = "CAPACITY_EXCEEDED"
	ReasonTransientConflict Reason = "TRANSIENT_CONFLICT"
)

// Retryable indica se o chamador pode tentar de novo mais tarde.
func (r Reason) Retryable() bool { return r == ReasonTransientConflict }

// ReasonFor traduz um erro de negócio para o Reason correspondente.
// Retorna ok=false para erros que não fazem parte da taxonomia (falha interna).
func ReasonFor(err error) (Reason, bool) {
	switch {
	case err == nil:
		return ReasonNone, true
	case errors.Is(err, ErrResourceNotFound):
		return ReasonResourceNotFound, true
	case errors.Is(err, ErrReservationNotFound):
		return ReasonNotFound, true
	case errors.Is(err, ErrAlreadyReserved):
		return ReasonAlreadyReserved, true
	case errors.Is(err, ErrAlreadyCancelled):
		return ReasonAlreadyCancelled, true
	case errors.Is(err, ErrCapacityExceeded):
		return ReasonCapacityExceeded, true
	case errors.Is(err, ErrTransientConflict):
		return ReasonTransientConflict, true
	default:
		return ReasonNone, false
	}
}

type ReserveOutcome struct {
	OK            bool
	ReservationID ReservationID
	Reason        Reason
}

type CancelOutcome struct {
	OK     bool
	Reason Reason
}
