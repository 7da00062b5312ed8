package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storepeer/propagator/internal/fetch"
	"github.com/storepeer/propagator/internal/ratelimit"
	"github.com/storepeer/propagator/internal/upload"
)

// RateLimits configures the two independently-tuned rate limiters the
// routing layer applies: a strict one for session creation, a looser one
// for reads.
type RateLimits struct {
	UploadStart *ratelimit.Limiter
	Fetch       *ratelimit.Limiter
}

// NewRouter wires the upload and fetch engines into a chi.Router, grouped
// by their rate-limit class.
func NewRouter(up *upload.Engine, fe *fetch.Engine, limits RateLimits) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Head("/{storeId}", up.StoreExists)

	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(limits.UploadStart, keyByIPAndStore))
		r.Post("/upload/{storeId}", up.StartUpload)
	})

	r.Head("/upload/{storeId}/{sessionId}/*", up.IssueNonce)
	r.Put("/upload/{storeId}/{sessionId}/*", up.PutFile)
	r.Post("/commit/{storeId}/{sessionId}", up.Commit)
	r.Post("/abort/{storeId}/{sessionId}", up.Abort)

	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(limits.Fetch, keyByIPStoreAndPath))
		r.Head("/fetch/{storeId}/{roothash}/*", fe.HeadFile)
		r.Get("/fetch/{storeId}/*", fe.GetFile)
	})

	return r
}

func rateLimitMiddleware(l *ratelimit.Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return l.Middleware(keyFunc, next)
	}
}

func keyByIPAndStore(r *http.Request) string {
	return clientIP(r) + "|" + chi.URLParam(r, "storeId")
}

func keyByIPStoreAndPath(r *http.Request) string {
	return clientIP(r) + "|" + chi.URLParam(r, "storeId") + "|" + r.URL.Path
}

func clientIP(r *http.Request) string {
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}
