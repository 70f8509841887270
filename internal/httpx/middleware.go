package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger puts the request id, method and path on the context for
// every log line of the request, then logs the outcome.
func RequestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := observability.WithFields(r.Context(),
				observability.Field{Key: "request_id", Value: middleware.GetReqID(r.Context())},
				observability.Field{Key: "method", Value: r.Method},
				observability.Field{Key: "path", Value: r.URL.Path},
			)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			logger.Info(observability.WithFields(ctx,
				observability.Field{Key: "status", Value: ww.Status()},
				observability.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
			), "request completed")
		})
	}
}

// Authenticate requires a valid bearer token and stores the caller on the
// request context.
func Authenticate(v *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || token == "" {
				writeError(w, ledger.ErrUnauthenticated)
				return
			}
			c, err := v.Verify(token)
			if err != nil {
				writeError(w, err)
				return
			}
			ctx := auth.WithCaller(r.Context(), c)
			ctx = observability.WithFields(ctx, observability.Field{Key: "caller_id", Value: c.UserID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
