package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/service"
)

func loggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now().UTC()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"from", r.RemoteAddr,
				"dur", time.Since(start),
				"req_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

type userKey struct{}

// requireUser authenticates HTTP Basic credentials and stores the login in
// the request context.
func requireUser(users *service.UserService, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			login, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}
			err := users.Authenticate(r.Context(), login, password)
			switch {
			case err == nil:
				ctx := context.WithValue(r.Context(), userKey{}, login)
				next.ServeHTTP(w, r.WithContext(ctx))
			case errors.Is(err, service.ErrInvalidCredentials):
				logger.Warn("authentication failed", "login", login, "from", r.RemoteAddr)
				unauthorized(w)
			default:
				logger.Error("authentication error", "err", err)
				writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			}
		})
	}
}

func userFrom(ctx context.Context) string {
	login, _ := ctx.Value(userKey{}).(string)
	return login
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="qrpass"`)
	writeError(w, http.StatusUnauthorized, "unauthorized", "login required")
}
