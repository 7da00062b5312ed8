// Package fetch implements the read-only retrieval surface: HEAD probes
// for existence/size and GET streaming of committed content.
// Grounded on perkeep's pkg/blobserver/handlers fetch-side logic (stat
// before serve, Content-Length from the stat result) and on localdisk's
// path resolution for locating a blob by its content-addressed path.
package fetch

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storepeer/propagator/internal/apierr"
	"github.com/storepeer/propagator/internal/layout"
	"github.com/storepeer/propagator/internal/log"
)

// Engine implements the fetch surface's HTTP handlers.
type Engine struct {
	Layout *layout.Layout
}

// NewEngine builds a fetch Engine.
func NewEngine(l *layout.Layout) *Engine {
	return &Engine{Layout: l}
}

// HeadFile handles HEAD /fetch/{storeId}/{roothash}/*, reporting whether a
// content-addressed blob exists under the store without transferring its
// body. roothash is accepted but not used to resolve the path: blob content
// is addressed solely by its data path and is shared across every root that
// references it.
func (e *Engine) HeadFile(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")
	dataPath := chi.URLParam(r, "*")
	e.head(w, storeID, dataPath)
}

func (e *Engine) head(w http.ResponseWriter, storeID, rel string) {
	path := filepath.Join(e.Layout.StoreDir(storeID), rel)
	fi, err := os.Stat(path)
	exists := err == nil && !fi.IsDir()
	w.Header().Set("x-file-exists", boolHeader(exists))
	if exists {
		w.Header().Set("x-file-size", strconv.FormatInt(fi.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
}

// GetFile handles GET /fetch/{storeId}/*, streaming the requested file.
// Once headers are flushed, a mid-stream read error destroys the
// connection rather than attempting to write a trailing JSON error body
// (the client has already received a 200 and Content-Length it can no
// longer trust).
func (e *Engine) GetFile(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")
	rel := chi.URLParam(r, "*")
	logger := log.WithStore(log.WithComponent("fetch-engine"), storeID)

	path := filepath.Join(e.Layout.StoreDir(storeID), rel)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			apierr.WriteJSON(w, apierr.New(apierr.NotFound, "file not found"))
			return
		}
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "failed to open file"))
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, err, "failed to stat file"))
		return
	}
	if fi.IsDir() {
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "file not found"))
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(rel)+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		logger.Warn().Err(err).Str("path", rel).Msg("fetch stream interrupted after headers were sent")
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, hjErr := hj.Hijack(); hjErr == nil {
				conn.Close()
			}
		}
	}
}

func boolHeader(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
