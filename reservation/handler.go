package reservation

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"reservation-gateway/reservation/application"
	"reservation-gateway/reservation/domain"

	"go.uber.org/zap"
)

type Options struct {
	Service application.Service
	// Store atende só as leituras consultivas (GET); decisões de escrita
	// passam sempre pelo Service.
	Store domain.Store
	// Catalog, se presente, completa GET /events/{id} com título e horário.
	Catalog domain.Catalog
	Logger  *zap.Logger
	// RetryAfter enviado em TRANSIENT_CONFLICT (503).
	RetryAfter time.Duration
}

type handler struct {
	opts Options
}

type reserveBody struct {
	OK            bool   `json:"ok"`
	ReservationID string `json:"reservationId"`
}

type cancelBody struct {
	OK bool `json:"ok"`
}

type resourceBody struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	StartsAt  *time.Time `json:"startsAt,omitempty"`
	Total     int        `json:"total"`
	Filled    int        `json:"filled"`
	Remaining int        `json:"remaining"`
}

type reservationBody struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	ResourceID  string     `json:"resourceId"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"createdAt"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

// NewHandler monta as rotas da API. Espera que IdentityMiddleware rode antes.
//
//	POST   /events/{id}/reservations
//	GET    /events/{id}
//	GET    /events/{id}/reservations/me
//	GET    /reservations/{id}
//	DELETE /reservations/{id}
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 1 * time.Second
	}
	h := &handler{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events/{id}/reservations", h.reserve)
	mux.HandleFunc("GET /events/{id}", h.resource)
	mux.HandleFunc("GET /events/{id}/reservations/me", h.myReservation)
	mux.HandleFunc("GET /reservations/{id}", h.reservation)
	mux.HandleFunc("DELETE /reservations/{id}", h.cancel)
	return mux
}

func (h *handler) reserve(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED")
		return
	}
	resource := domain.ResourceID(strings.TrimSpace(r.PathValue("id")))

	out, err := h.opts.Service.Reserve(r.Context(), user, resource)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if !out.OK {
		h.rejected(w, out.Reason)
		return
	}
	w.Header().Set("Location", "/reservations/"+string(out.ReservationID))
	writeJSON(w, http.StatusCreated, reserveBody{OK: true, ReservationID: string(out.ReservationID)})
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED")
		return
	}
	id := domain.ReservationID(strings.TrimSpace(r.PathValue("id")))

	// dono é imutável: ler antes do cancel não abre janela de corrida.
	if !h.ownedBy(w, r, id, user) {
		return
	}

	out, err := h.opts.Service.Cancel(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if !out.OK {
		h.rejected(w, out.Reason)
		return
	}
	writeJSON(w, http.StatusOK, cancelBody{OK: true})
}

func (h *handler) resource(w http.ResponseWriter, r *http.Request) {
	if h.opts.Store == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED")
		return
	}
	res, err := h.opts.Store.Resource(r.Context(), domain.ResourceID(r.PathValue("id")))
	if err != nil {
		h.readError(w, r, err)
		return
	}
	body := resourceBody{
		ID:        string(res.ID),
		Total:     res.Total,
		Filled:    res.Filled,
		Remaining: res.Remaining(),
	}
	h.describe(r, res.ID, &body)
	writeJSON(w, http.StatusOK, body)
}

// describe preenche título e horário a partir do catálogo. Capacidade vem
// sempre do Store; falha no catálogo não derruba a leitura.
func (h *handler) describe(r *http.Request, id domain.ResourceID, body *resourceBody) {
	if h.opts.Catalog == nil {
		return
	}
	entry, err := h.opts.Catalog.GetResource(r.Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrResourceNotFound) {
			h.opts.Logger.Warn("catalog lookup failed", zap.String("resource_id", string(id)), zap.Error(err))
		}
		return
	}
	body.Title = entry.Title
	if !entry.StartsAt.IsZero() {
		startsAt := entry.StartsAt.UTC()
		body.StartsAt = &startsAt
	}
}

func (h *handler) myReservation(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED")
		return
	}
	if h.opts.Store == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED")
		return
	}
	res, err := h.opts.Store.ActiveReservation(r.Context(), user, domain.ResourceID(r.PathValue("id")))
	if err != nil {
		h.readError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationBody(res))
}

func (h *handler) reservation(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED")
		return
	}
	if h.opts.Store == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED")
		return
	}
	res, err := h.opts.Store.Reservation(r.Context(), domain.ReservationID(r.PathValue("id")))
	if err != nil {
		h.readError(w, r, err)
		return
	}
	if res.UserID != user {
		writeError(w, http.StatusNotFound, string(domain.ReasonNotFound))
		return
	}
	writeJSON(w, http.StatusOK, toReservationBody(res))
}

// ownedBy responde 404 (sem vazar existência) quando a reserva é de outro usuário.
// Sem Store não há como checar o dono, então o cancel fica indisponível.
func (h *handler) ownedBy(w http.ResponseWriter, r *http.Request, id domain.ReservationID, user domain.UserID) bool {
	if h.opts.Store == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED")
		return false
	}
	res, err := h.opts.Store.Reservation(r.Context(), id)
	if err != nil {
		h.readError(w, r, err)
		return false
	}
	if res.UserID != user {
		writeError(w, http.StatusNotFound, string(domain.ReasonNotFound))
		return false
	}
	return true
}

func (h *handler) rejected(w http.ResponseWriter, reason domain.Reason) {
	status := StatusFor(reason)
	if reason.Retryable() {
		w.Header().Set("Retry-After", formatInt(int(h.opts.RetryAfter.Seconds())))
	}
	writeError(w, status, string(reason))
}

func (h *handler) readError(w http.ResponseWriter, r *http.Request, err error) {
	if reason, known := domain.ReasonFor(err); known && reason != domain.ReasonNone {
		h.rejected(w, reason)
		return
	}
	h.internalError(w, r, err)
}

func (h *handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
		// cliente desistiu; nada foi gravado e ninguém vai ler a resposta.
		return
	}
	h.opts.Logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "INTERNAL")
}

// StatusFor mapeia o motivo de recusa para o status HTTP.
func StatusFor(reason domain.Reason) int {
	switch reason {
	case domain.ReasonNone:
		return http.StatusOK
	case domain.ReasonResourceNotFound, domain.ReasonNotFound:
		return http.StatusNotFound
	case domain.ReasonAlreadyReserved, domain.ReasonAlreadyCancelled, domain.ReasonCapacityExceeded:
		return http.StatusConflict
	case domain.ReasonTransientConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toReservationBody(r domain.Reservation) reservationBody {
	body := reservationBody{
		ID:         string(r.ID),
		UserID:     string(r.UserID),
		ResourceID: string(r.ResourceID),
		State:      string(r.State),
		CreatedAt:  r.CreatedAt,
	}
	if !r.CancelledAt.IsZero() {
		at := r.CancelledAt
		body.CancelledAt = &at
	}
	return body
}
