package middleware

import (
	"context"
	"net/http"

	"adherence/internal/models"
)

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxManager   ctxKey = "manager"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func WithManager(ctx context.Context, m models.Manager) context.Context {
	return context.WithValue(ctx, ctxManager, m)
}

func Manager(ctx context.Context) (models.Manager, bool) {
	m, ok := ctx.Value(ctxManager).(models.Manager)
	return m, ok
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}
