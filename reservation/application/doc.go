// Package application contém os casos de uso do núcleo de reservas.
//
// Ele depende apenas do pacote domain (e de libs de observabilidade) e não conhece
// net/http nem drivers de armazenamento.
// Ex.: Service.Reserve(user, resource) devolve um ReserveOutcome tipado.
package application
