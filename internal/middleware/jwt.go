package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chat-relay/internal/apperrors"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const UserKey contextKey = "user_id"

var ErrInvalidToken = errors.New("invalid token")

// TokenValidator turns a bearer token into the caller's user id.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}

// HMACValidator accepts HS256 tokens signed with a shared secret. The user id
// is read from the "sub" claim.
type HMACValidator struct {
	secret []byte
}

func NewHMACValidator(secret string) *HMACValidator {
	return &HMACValidator{secret: []byte(secret)}
}

func (v *HMACValidator) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
			tokenString = token
		}

		// Browsers cannot set headers on a websocket handshake.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			apperrors.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		userID, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			apperrors.WriteError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user id, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserKey).(string)
	return id, ok
}
