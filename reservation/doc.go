// Package reservation fornece o adapter HTTP (net/http) do núcleo de reservas.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (Reserve/Cancel atômicos, retry, notificação) sem net/http
//   - infra: implementações concretas (memória, SQLite, Redis, Kafka, JWT, rate limit)
//   - reservation (este pacote): handlers HTTP + identidade + limite de tentativas
//     + tradução de Outcome para status/JSON
//
// Fluxo de uma reserva:
//
//   1) IdentityMiddleware resolve o usuário pelo Directory (401 se falhar)
//   2) RateLimitMiddleware limita tentativas por usuário (429)
//   3) o handler chama application.Service.Reserve
//   4) o Outcome vira 201/404/409/503 sem inventar estados novos
//
// Variáveis de ambiente do binário (cmd/reservationd) controlam o comportamento,
// como STORE_BACKEND, LOCK_TIMEOUT, RETRY_MAX_ATTEMPTS e AUTH_MODE.
package reservation
