package reservation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reservation-gateway/reservation/domain"
	"reservation-gateway/reservation/infra"
)

func TestIdentityMiddleware_ResolvesJWT(t *testing.T) {
	dir := infra.JWTDirectory{Secret: []byte("s3cret")}
	token, err := dir.IssueToken("alice", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var seen domain.UserID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := IdentityMiddleware(IdentityOptions{Directory: dir})(next)

	r := httptest.NewRequest(http.MethodGet, "http://example/events/e1", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent || seen != "alice" {
		t.Fatalf("expected alice to reach the handler, got code=%d user=%q", w.Code, seen)
	}
}

func TestIdentityMiddleware_RejectsWithoutCallingNext(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	for name, opts := range map[string]IdentityOptions{
		"no directory": {},
		"bad token":    {Directory: infra.JWTDirectory{Secret: []byte("s3cret")}},
	} {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
			r.Header.Set("Authorization", "Bearer garbage")
			w := httptest.NewRecorder()
			IdentityMiddleware(opts)(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if called {
				t.Fatalf("expected next handler not to run")
			}
		})
	}
}

func TestIdentityMiddleware_CustomHeader(t *testing.T) {
	var seen domain.UserID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen, _ = UserFrom(r.Context()) })
	h := IdentityMiddleware(IdentityOptions{Directory: infra.HeaderDirectory{}, Header: "X-User-ID"})(next)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-User-ID", "bob")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if seen != "bob" {
		t.Fatalf("expected bob, got %q", seen)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"abc":          "abc",
		"":             "",
	}
	for in, want := range cases {
		if got := bearerToken(in); got != want {
			t.Fatalf("bearerToken(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestUserFrom_EmptyContext(t *testing.T) {
	if _, ok := UserFrom(context.Background()); ok {
		t.Fatalf("expected no user in empty context")
	}
	if _, ok := UserFrom(WithUser(context.Background(), "")); ok {
		t.Fatalf("expected empty user to be treated as absent")
	}
}
