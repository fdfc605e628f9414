package reservation

import (
	"context"
	"net/http"
	"strings"

	"reservation-gateway/reservation/domain"

	"go.uber.org/zap"
)

type userKey struct{}

// WithUser devolve um ctx carregando o usuário já resolvido.
func WithUser(ctx context.Context, user domain.UserID) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom lê o usuário colocado por IdentityMiddleware.
func UserFrom(ctx context.Context) (domain.UserID, bool) {
	user, ok := ctx.Value(userKey{}).(domain.UserID)
	return user, ok && user != ""
}

type IdentityOptions struct {
	Directory domain.Directory
	// Header de onde vem o token. Padrão: Authorization (com prefixo "Bearer ").
	Header string
	Logger *zap.Logger
}

// IdentityMiddleware resolve o chamador antes de qualquer chamada ao núcleo.
func IdentityMiddleware(opts IdentityOptions) func(next http.Handler) http.Handler {
	if opts.Header == "" {
		opts.Header = "Authorization"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Directory == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED")
				return
			}
			token := bearerToken(r.Header.Get(opts.Header))
			user, err := opts.Directory.ResolveUser(r.Context(), token)
			if err != nil {
				opts.Logger.Debug("unauthenticated request", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func bearerToken(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}
