// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore: Capacity Store + Ledger em memória, com trava por recurso
//   - RedisStore: transação otimista (WATCH/MULTI) sobre go-redis
//   - sqlite.Store (subpacote): transação IMMEDIATE sobre modernc.org/sqlite
//   - AttemptLimiter: token bucket por usuário usando golang.org/x/time/rate
//   - notificadores (log, Redis pub/sub, Kafka) e estatísticas (memória, Redis)
package infra
