package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	StaffIDKey    contextKey = "staff_id"
	LocationIDKey contextKey = "location_id"
)

// Claims identifies the front-desk operator taking the payment.
type Claims struct {
	StaffID    string `json:"staff_id"`
	LocationID string `json:"location_id"`
	jwt.RegisteredClaims
}

// RequireAuth validates an HS256 bearer token and stores the operator in the
// request context.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "missing authorization header", "auth_required")
				return
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeAuthError(w, "invalid authorization scheme", "auth_invalid_scheme")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			}, jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				writeAuthError(w, "invalid token", "auth_invalid")
				return
			}

			staff := claims.StaffID
			if staff == "" {
				staff = claims.Subject
			}
			ctx := context.WithValue(r.Context(), StaffIDKey, staff)
			ctx = context.WithValue(ctx, LocationIDKey, claims.LocationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaffID returns the authenticated operator, if any.
func StaffID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(StaffIDKey).(string)
	return id, ok && id != ""
}

// LocationID returns the salon location from the token, if any.
func LocationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(LocationIDKey).(string)
	return id, ok && id != ""
}

func writeAuthError(w http.ResponseWriter, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}
