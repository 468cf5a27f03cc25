package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"arcana/auth"
)

type ctxKey int

const callerKey ctxKey = iota

type caller struct {
	ID   string
	Role auth.Role
}

// TokenVerifier resolves a bearer token to the account it was issued for.
type TokenVerifier interface {
	VerifyToken(token string) (string, auth.Role, error)
}

// authenticate requires a valid bearer token. Role and verification are
// checked per operation by the services, against the stored account.
func authenticate(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="arcana"`)
				writeErrorBody(w, r, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			userID, role, err := tokens.VerifyToken(strings.TrimSpace(token))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="arcana", error="invalid_token"`)
				writeErrorBody(w, r, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), callerKey, caller{ID: userID, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey).(caller)
	return c
}

// requestLogger logs one line per request at INFO, or WARN for 5xx.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
