package router

import (
	"net/http"
	"time"

	"github.com/mailmerge/mailmerge/internal/handler"
	"github.com/mailmerge/mailmerge/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, account middleware.Authenticator, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	mux.HandleFunc("GET /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Mail Merge API v1","version":"` + handler.Version + `"}`))
	})

	// Google sign-in
	loginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "login",
		Limit:  10,
		Window: 15 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	mux.Handle("GET /api/v1/auth/login", loginRateLimit(http.HandlerFunc(h.Login)))
	mux.Handle("GET /api/v1/auth/callback", loginRateLimit(http.HandlerFunc(h.Callback)))
	mux.HandleFunc("POST /api/v1/auth/logout", h.Logout)

	// Session
	mux.HandleFunc("GET /api/v1/state", h.State)
	mux.HandleFunc("POST /api/v1/reset", h.Reset)
	mux.HandleFunc("GET /api/v1/export", h.Export)

	// Rows
	uploadRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "upload",
		Limit:  20,
		Window: time.Minute,
		KeyFn:  middleware.IPKey,
	})
	requireAccount := mw.RequireAccount(account)

	mux.Handle("POST /api/v1/rows", uploadRateLimit(http.HandlerFunc(h.UploadRows)))
	mux.Handle("POST /api/v1/rows/sheet", requireAccount(uploadRateLimit(http.HandlerFunc(h.ImportSheet))))
	mux.HandleFunc("GET /api/v1/rows", h.GetRows)
	mux.HandleFunc("PUT /api/v1/rows", h.PutRows)
	mux.HandleFunc("DELETE /api/v1/rows", h.ClearRows)

	// Compose and send
	dispatchRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "dispatch",
		Limit:  5,
		Window: time.Minute,
		KeyFn:  middleware.IPKey,
	})
	mux.HandleFunc("POST /api/v1/preview", h.Preview)
	mux.Handle("POST /api/v1/dispatch", requireAccount(dispatchRateLimit(http.HandlerFunc(h.Dispatch))))

	// History
	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)

	// Apply middleware stack
	var handler http.Handler = mux

	// CORS
	handler = mw.CORS(allowedOrigins)(handler)

	// Security headers
	handler = mw.SecurityHeaders(handler)

	// Request logging
	handler = mw.Logger(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
