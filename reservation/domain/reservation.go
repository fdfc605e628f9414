package domain

import "time"

type ResourceID string

type UserID string

type ReservationID string

// Resource é um evento (pool de vagas) espelhado do catálogo.
//
// Invariante: 0 <= Filled <= Total em todo instante observável.
// Total é fixo após a criação; Filled só muda dentro de uma transação do Service.
type Resource struct {
	ID     ResourceID
	Total  int
	Filled int
}

// Remaining devolve quantas vagas ainda podem ser reservadas.
func (r Resource) Remaining() int {
	if r.Filled >= r.Total {
		return 0
	}
	return r.Total - r.Filled
}

type State string

const (
	StateActive    State = "ACTIVE"
	StateCancelled State = "CANCELLED"
)

// Reservation liga um usuário a uma vaga de um recurso.
//
// Ciclo de vida: nasce ACTIVE quando o reserve confirma, vira CANCELLED quando o
// cancel confirma. CANCELLED é terminal; uma nova reserva do mesmo par recebe
// outro ID.
type Reservation struct {
	ID          ReservationID
	UserID      UserID
	ResourceID  ResourceID
	State       State
	CreatedAt   time.Time
	CancelledAt time.Time
}

func (r Reservation) Active() bool { return r.State == StateActive }
