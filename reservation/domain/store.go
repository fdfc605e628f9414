package domain

import "context"

// Tx é a visão transacional do Capacity Store + Ledger para UM recurso.
//
// Leituras feitas via Tx enxergam o estado sob o mesmo ponto de serialização
// que as escritas. Escritas só ficam visíveis se a função passada ao UnitOfWork
// retornar nil; qualquer erro desfaz tudo.
type Tx interface {
	Resource(ctx context.Context, id ResourceID) (Resource, error)
	Reservation(ctx context.Context, id ReservationID) (Reservation, error)

	// TryAdjust aplica filled += delta somente se o resultado ficar em [0, total].
	TryAdjust(ctx context.Context, id ResourceID, delta int) (bool, error)

	// TryInsertActive grava r como ACTIVE ou falha com ErrAlreadyReserved
	// se já existir uma reserva ativa para (r.UserID, r.ResourceID).
	TryInsertActive(ctx context.Context, r Reservation) error

	// MarkCancelled move ACTIVE -> CANCELLED. Falha com ErrReservationNotFound
	// ou ErrAlreadyCancelled.
	MarkCancelled(ctx context.Context, id ReservationID) (Reservation, error)
}

// UnitOfWork delimita a transação atômica por recurso.
//
// Chamadas concorrentes sobre o mesmo recurso observam uma ordem total;
// recursos diferentes são independentes. Se o ponto de serialização não for
// obtido dentro do prazo, o retorno é ErrTransientConflict.
type UnitOfWork interface {
	InResource(ctx context.Context, id ResourceID, fn func(Tx) error) error
	InReservation(ctx context.Context, id ReservationID, fn func(Tx) error) error
}

// Store junta a unidade de trabalho com as leituras consultivas e o espelhamento do catálogo.
type Store interface {
	UnitOfWork

	// EnsureResource cria o recurso com a capacidade dada se ele não existir.
	// Um recurso existente nunca tem total ou filled alterados.
	EnsureResource(ctx context.Context, id ResourceID, total int) (Resource, error)

	// Leituras consultivas: não servem como base para decisões de escrita.
	Resource(ctx context.Context, id ResourceID) (Resource, error)
	Reservation(ctx context.Context, id ReservationID) (Reservation, error)
	ActiveReservation(ctx context.Context, user UserID, resource ResourceID) (Reservation, error)

	Close() error
}
