// Package domain define contratos e tipos de domínio para reservas com capacidade limitada.
//
// Este pacote não depende de net/http nem de drivers de armazenamento.
// A intenção é permitir testes de unidade puros e desacoplar as regras
// (teto de capacidade, uma reserva ativa por usuário/evento) dos detalhes de infra.
package domain
