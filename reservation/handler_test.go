package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reservation-gateway/reservation/application"
	"reservation-gateway/reservation/domain"
	"reservation-gateway/reservation/infra"
)

type apiResponse struct {
	OK            bool   `json:"ok"`
	ReservationID string `json:"reservationId"`
	Reason        string `json:"reason"`

	ID        string     `json:"id"`
	Title     string     `json:"title"`
	StartsAt  *time.Time `json:"startsAt"`
	Total     int        `json:"total"`
	Filled    int        `json:"filled"`
	Remaining int        `json:"remaining"`

	UserID string `json:"userId"`
	State  string `json:"state"`
}

// failingStore responde err em toda transação; leituras vão para o MemoryStore.
type failingStore struct {
	*infra.MemoryStore
	err error
}

func (s failingStore) InResource(context.Context, domain.ResourceID, func(domain.Tx) error) error {
	return s.err
}

func (s failingStore) InReservation(context.Context, domain.ReservationID, func(domain.Tx) error) error {
	return s.err
}

func newTestAPI(t *testing.T, store domain.Store) http.Handler {
	t.Helper()
	h := NewHandler(Options{
		Service:    application.Service{Store: store, MaxAttempts: 1},
		Store:      store,
		RetryAfter: 2 * time.Second,
	})
	return IdentityMiddleware(IdentityOptions{Directory: infra.HeaderDirectory{}})(h)
}

func seededStore(t *testing.T, total int) *infra.MemoryStore {
	t.Helper()
	s := infra.NewMemoryStore()
	if _, err := s.EnsureResource(context.Background(), "e1", total); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	return s
}

func call(t *testing.T, h http.Handler, method, path, user string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	r := httptest.NewRequest(method, "http://example"+path, nil)
	if user != "" {
		r.Header.Set("Authorization", "Bearer "+user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var body apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return w, body
}

func TestHandler_ReserveLifecycle(t *testing.T) {
	h := newTestAPI(t, seededStore(t, 1))

	w, body := call(t, h, http.MethodPost, "/events/e1/reservations", "alice")
	if w.Code != http.StatusCreated || !body.OK || body.ReservationID == "" {
		t.Fatalf("expected 201 with id, got %d %+v", w.Code, body)
	}
	if got := w.Header().Get("Location"); got != "/reservations/"+body.ReservationID {
		t.Fatalf("unexpected Location %q", got)
	}
	id := body.ReservationID

	w, body = call(t, h, http.MethodPost, "/events/e1/reservations", "alice")
	if w.Code != http.StatusConflict || body.Reason != "ALREADY_RESERVED" {
		t.Fatalf("expected 409 ALREADY_RESERVED, got %d %+v", w.Code, body)
	}

	w, body = call(t, h, http.MethodPost, "/events/e1/reservations", "bob")
	if w.Code != http.StatusConflict || body.Reason != "CAPACITY_EXCEEDED" {
		t.Fatalf("expected 409 CAPACITY_EXCEEDED, got %d %+v", w.Code, body)
	}

	w, body = call(t, h, http.MethodGet, "/events/e1", "bob")
	if w.Code != http.StatusOK || body.Total != 1 || body.Filled != 1 || body.Remaining != 0 {
		t.Fatalf("unexpected event view %d %+v", w.Code, body)
	}

	w, body = call(t, h, http.MethodGet, "/events/e1/reservations/me", "alice")
	if w.Code != http.StatusOK || body.ID != id || body.State != "ACTIVE" {
		t.Fatalf("expected alice's active reservation, got %d %+v", w.Code, body)
	}

	w, body = call(t, h, http.MethodDelete, "/reservations/"+id, "alice")
	if w.Code != http.StatusOK || !body.OK {
		t.Fatalf("expected 200 on cancel, got %d %+v", w.Code, body)
	}

	w, body = call(t, h, http.MethodDelete, "/reservations/"+id, "alice")
	if w.Code != http.StatusConflict || body.Reason != "ALREADY_CANCELLED" {
		t.Fatalf("expected 409 ALREADY_CANCELLED, got %d %+v", w.Code, body)
	}

	w, body = call(t, h, http.MethodGet, "/reservations/"+id, "alice")
	if w.Code != http.StatusOK || body.State != "CANCELLED" || body.UserID != "alice" {
		t.Fatalf("expected cancelled reservation view, got %d %+v", w.Code, body)
	}

	w, body = call(t, h, http.MethodPost, "/events/e1/reservations", "bob")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected freed seat to be reservable, got %d %+v", w.Code, body)
	}
}

func TestHandler_OnlyOwnerSeesOrCancels(t *testing.T) {
	store := seededStore(t, 2)
	h := newTestAPI(t, store)

	_, body := call(t, h, http.MethodPost, "/events/e1/reservations", "alice")
	id := body.ReservationID

	w, body := call(t, h, http.MethodDelete, "/reservations/"+id, "mallory")
	if w.Code != http.StatusNotFound || body.Reason != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND for other user, got %d %+v", w.Code, body)
	}
	w, _ = call(t, h, http.MethodGet, "/reservations/"+id, "mallory")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on read by other user, got %d", w.Code)
	}

	res, _ := store.Resource(context.Background(), "e1")
	if res.Filled != 1 {
		t.Fatalf("expected seat to stay taken, got filled=%d", res.Filled)
	}
}

func TestHandler_CancelWithoutStoreIsUnavailable(t *testing.T) {
	store := seededStore(t, 1)
	svc := application.Service{Store: store, MaxAttempts: 1}
	out, err := svc.Reserve(context.Background(), "alice", "e1")
	if err != nil || !out.OK {
		t.Fatalf("seed reserve: %+v %v", out, err)
	}

	// sem Store o dono não pode ser checado; o cancel não pode passar direto.
	h := IdentityMiddleware(IdentityOptions{Directory: infra.HeaderDirectory{}})(
		NewHandler(Options{Service: svc}),
	)
	w, body := call(t, h, http.MethodDelete, "/reservations/"+string(out.ReservationID), "mallory")
	if w.Code != http.StatusNotImplemented || body.Reason != "NOT_IMPLEMENTED" {
		t.Fatalf("expected 501 NOT_IMPLEMENTED, got %d %+v", w.Code, body)
	}

	res, _ := store.Resource(context.Background(), "e1")
	if res.Filled != 1 {
		t.Fatalf("expected reservation to stay active, got filled=%d", res.Filled)
	}
}

func TestHandler_EventViewUsesCatalog(t *testing.T) {
	store := seededStore(t, 3)
	if _, err := store.EnsureResource(context.Background(), "e2", 1); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	catalog, err := infra.ParseCatalog(strings.NewReader(`
events:
  - id: e1
    title: Show de abertura
    startsAt: 2026-11-01T20:00:00Z
    capacity: 99
`))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	h := IdentityMiddleware(IdentityOptions{Directory: infra.HeaderDirectory{}})(NewHandler(Options{
		Service: application.Service{Store: store, MaxAttempts: 1},
		Store:   store,
		Catalog: catalog,
	}))

	w, body := call(t, h, http.MethodGet, "/events/e1", "alice")
	if w.Code != http.StatusOK || body.Title != "Show de abertura" {
		t.Fatalf("expected catalog title, got %d %+v", w.Code, body)
	}
	want := time.Date(2026, 11, 1, 20, 0, 0, 0, time.UTC)
	if body.StartsAt == nil || !body.StartsAt.Equal(want) {
		t.Fatalf("expected startsAt %v, got %v", want, body.StartsAt)
	}
	// capacidade sempre vem do Store, nunca do catálogo
	if body.Total != 3 {
		t.Fatalf("expected total from store (3), got %d", body.Total)
	}

	w, body = call(t, h, http.MethodGet, "/events/e2", "alice")
	if w.Code != http.StatusOK || body.Title != "" || body.StartsAt != nil || body.Total != 1 {
		t.Fatalf("expected bare view for event outside catalog, got %d %+v", w.Code, body)
	}
}

func TestHandler_NotFound(t *testing.T) {
	h := newTestAPI(t, seededStore(t, 1))

	cases := []struct {
		method, path, reason string
	}{
		{http.MethodPost, "/events/ghost/reservations", "RESOURCE_NOT_FOUND"},
		{http.MethodGet, "/events/ghost", "RESOURCE_NOT_FOUND"},
		{http.MethodDelete, "/reservations/nope", "NOT_FOUND"},
		{http.MethodGet, "/reservations/nope", "NOT_FOUND"},
		{http.MethodGet, "/events/e1/reservations/me", "NOT_FOUND"},
	}
	for _, tc := range cases {
		w, body := call(t, h, tc.method, tc.path, "alice")
		if w.Code != http.StatusNotFound || body.Reason != tc.reason {
			t.Fatalf("%s %s: expected 404 %s, got %d %+v", tc.method, tc.path, tc.reason, w.Code, body)
		}
	}
}

func TestHandler_RequiresIdentity(t *testing.T) {
	h := newTestAPI(t, seededStore(t, 1))

	w, body := call(t, h, http.MethodPost, "/events/e1/reservations", "")
	if w.Code != http.StatusUnauthorized || body.Reason != "UNAUTHENTICATED" {
		t.Fatalf("expected 401, got %d %+v", w.Code, body)
	}
}

func TestHandler_TransientConflictIsRetryable(t *testing.T) {
	store := failingStore{MemoryStore: seededStore(t, 1), err: domain.ErrTransientConflict}
	h := newTestAPI(t, store)

	w, body := call(t, h, http.MethodPost, "/events/e1/reservations", "alice")
	if w.Code != http.StatusServiceUnavailable || body.Reason != "TRANSIENT_CONFLICT" {
		t.Fatalf("expected 503 TRANSIENT_CONFLICT, got %d %+v", w.Code, body)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After=2, got %q", got)
	}
}

func TestHandler_InternalError(t *testing.T) {
	store := failingStore{MemoryStore: seededStore(t, 1), err: errors.New("disk on fire")}
	h := newTestAPI(t, store)

	w, body := call(t, h, http.MethodPost, "/events/e1/reservations", "alice")
	if w.Code != http.StatusInternalServerError || body.Reason != "INTERNAL" {
		t.Fatalf("expected 500 INTERNAL, got %d %+v", w.Code, body)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[domain.Reason]int{
		domain.ReasonNone:              http.StatusOK,
		domain.ReasonResourceNotFound:  http.StatusNotFound,
		domain.ReasonNotFound:          http.StatusNotFound,
		domain.ReasonAlreadyReserved:   http.StatusConflict,
		domain.ReasonAlreadyCancelled:  http.StatusConflict,
		domain.ReasonCapacityExceeded:  http.StatusConflict,
		domain.ReasonTransientConflict: http.StatusServiceUnavailable,
		domain.Reason("WHATEVER"):      http.StatusInternalServerError,
	}
	for reason, want := range cases {
		if got := StatusFor(reason); got != want {
			t.Fatalf("StatusFor(%q): expected %d, got %d", reason, want, got)
		}
	}
}
