package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestHMACValidator(t *testing.T) {
	v := NewHMACValidator(testSecret)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{
			name:  "valid",
			token: signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "alice", ExpiresAt: future}),
			want:  "alice",
		},
		{
			name:    "expired",
			token:   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "alice", ExpiresAt: past}),
			wantErr: true,
		},
		{
			name:    "wrong secret",
			token:   signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{Subject: "alice"}),
			wantErr: true,
		},
		{
			name:    "wrong algorithm",
			token:   signToken(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.RegisteredClaims{Subject: "alice"}),
			wantErr: true,
		},
		{
			name:    "no subject",
			token:   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{ExpiresAt: future}),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not.a.token",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ValidateToken(tt.token)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "alice"})
	mw := NewAuthMiddleware(NewHMACValidator(testSecret))

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := mw.Handle(next)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		user   string
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent, "alice"},
		{"query param", func(r *http.Request) { r.URL.RawQuery = "token=" + token }, http.StatusNoContent, "alice"},
		{"missing", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"invalid", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			r := httptest.NewRequest(http.MethodGet, "/api/chats/alice", nil)
			tt.setup(r)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, r)
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.user, seen)
		})
	}
}
