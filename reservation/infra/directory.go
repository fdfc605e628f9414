package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reservation-gateway/reservation/domain"

	"github.com/golang-jwt/jwt/v5"
)

// JWTDirectory resolve um bearer token HS256 para o UserID (claim "sub").
type JWTDirectory struct {
	Secret []byte
	Issuer string
	Leeway time.Duration
}

func (d JWTDirectory) ResolveUser(_ context.Context, token string) (domain.UserID, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(d.Secret) == 0 {
		return "", domain.ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(d.Leeway),
	}
	if d.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(d.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return d.Secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: missing subject", domain.ErrUnauthenticated)
	}
	return domain.UserID(sub), nil
}

// IssueToken assina um token HS256 para o usuário.
func (d JWTDirectory) IssueToken(user domain.UserID, ttl time.Duration) (string, error) {
	if len(d.Secret) == 0 {
		return "", errors.New("jwt secret is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(user),
		Issuer:    d.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.Secret)
}

// HeaderDirectory confia no valor recebido como o próprio UserID.
// Só para desenvolvimento ou atrás de um gateway que já autenticou.
type HeaderDirectory struct{}

func (HeaderDirectory) ResolveUser(_ context.Context, token string) (domain.UserID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", domain.ErrUnauthenticated
	}
	return domain.UserID(token), nil
}
