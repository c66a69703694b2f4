package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// bearerUser extracts an opaque user identifier from an optional bearer
// token. Requests without a token (or with an unparsable one) proceed
// anonymously; there is no authorization model beyond the identifier.
func (s *Server) bearerUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if s.jwtSecret == "" || !strings.HasPrefix(authz, "Bearer ") {
			next.ServeHTTP(w, r)
			return
		}

		raw := strings.TrimPrefix(authz, "Bearer ")
		sub, err := parseSubject(s.jwtSecret, raw)
		if err != nil || sub == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseSubject(secret, tokenStr string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}
	sub, _ := claims["sub"].(string)
	return sub, nil
}

// tokenUserID returns the identifier extracted by bearerUser, if any.
func tokenUserID(r *http.Request) string {
	if v, ok := r.Context().Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
