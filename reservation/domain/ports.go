package domain

import (
	"context"
	"time"
)

// CatalogEntry é o que o núcleo consome do catálogo de eventos (externo).
type CatalogEntry struct {
	ID       ResourceID
	Title    string
	StartsAt time.Time
	Total    int
}

// Catalog é somente leitura para o núcleo.
type Catalog interface {
	GetResource(ctx context.Context, id ResourceID) (CatalogEntry, error)
	List(ctx context.Context) ([]CatalogEntry, error)
}

// Directory resolve a identidade do chamador. Roda antes do núcleo;
// o Service só recebe um UserID já validado.
type Directory interface {
	ResolveUser(ctx context.Context, token string) (UserID, error)
}

type NotificationKind string

const (
	ReservationCreated   NotificationKind = "ReservationCreated"
	ReservationCancelled NotificationKind = "ReservationCancelled"
)

type Notification struct {
	Kind          NotificationKind `json:"kind"`
	ResourceID    ResourceID       `json:"resourceId"`
	UserID        UserID           `json:"userId"`
	ReservationID ReservationID    `json:"reservationId"`
	At            time.Time        `json:"at"`
}

// Notifier é avisado depois do commit (best-effort). Não participa da transação
// e o erro retornado nunca muda o resultado da operação.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Op string

const (
	OpReserve Op = "reserve"
	OpCancel  Op = "cancel"
)

// OutcomeEvent representa o resultado de uma tentativa, para estatística.
//
// Observação: cuidado com cardinalidade ao persistir ResourceID em bases como Redis.
type OutcomeEvent struct {
	Op         Op
	ResourceID ResourceID
	OK         bool
	Reason     Reason
	At         time.Time
}

// StatsStore persiste estatísticas de resultados. Tratada como best-effort.
type StatsStore interface {
	Record(ctx context.Context, ev OutcomeEvent) error
}
