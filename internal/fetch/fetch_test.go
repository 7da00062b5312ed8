package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/storepeer/propagator/internal/layout"
)

func chiRequest(method, target string, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	lay, err := layout.New(t.TempDir())
	require.NoError(t, err)
	return NewEngine(lay)
}

func TestHeadFileReportsExistenceAndSize(t *testing.T) {
	e := newTestEngine(t)
	storeDir := e.Layout.StoreDir("store1")
	require.NoError(t, os.MkdirAll(filepath.Join(storeDir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(storeDir, "data", "blob"), []byte("hello"), 0o644))

	req := chiRequest(http.MethodHead, "/fetch/store1/aabbcc/data/blob", map[string]string{"storeId": "store1", "roothash": "aabbcc", "*": "data/blob"})
	w := httptest.NewRecorder()
	e.HeadFile(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "true", w.Header().Get("x-file-exists"))
	require.Equal(t, "5", w.Header().Get("x-file-size"))
}

func TestHeadFileReportsMissing(t *testing.T) {
	e := newTestEngine(t)
	req := chiRequest(http.MethodHead, "/fetch/store1/aabbcc/data/missing", map[string]string{"storeId": "store1", "roothash": "aabbcc", "*": "data/missing"})
	w := httptest.NewRecorder()
	e.HeadFile(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "false", w.Header().Get("x-file-exists"))
	require.Empty(t, w.Header().Get("x-file-size"))
}

func TestHeadFileIgnoresRoothashSegmentWhenResolvingBlob(t *testing.T) {
	e := newTestEngine(t)
	storeDir := e.Layout.StoreDir("store1")
	require.NoError(t, os.MkdirAll(filepath.Join(storeDir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(storeDir, "data", "blob"), []byte("hello"), 0o644))

	// The blob is content-addressed and shared across every root that
	// references it, so an unrelated roothash segment must still resolve it.
	req := chiRequest(http.MethodHead, "/fetch/store1/deadbeef/data/blob", map[string]string{"storeId": "store1", "roothash": "deadbeef", "*": "data/blob"})
	w := httptest.NewRecorder()
	e.HeadFile(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "true", w.Header().Get("x-file-exists"))
}

func TestGetFileStreamsContent(t *testing.T) {
	e := newTestEngine(t)
	storeDir := e.Layout.StoreDir("store1")
	require.NoError(t, os.MkdirAll(filepath.Join(storeDir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(storeDir, "data", "blob"), []byte("hello world"), 0o644))

	req := chiRequest(http.MethodGet, "/fetch/store1/data/blob", map[string]string{"storeId": "store1", "*": "data/blob"})
	w := httptest.NewRecorder()
	e.GetFile(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello world", w.Body.String())
	require.Equal(t, "11", w.Header().Get("Content-Length"))
}

func TestGetFileReturnsNotFoundForMissingFile(t *testing.T) {
	e := newTestEngine(t)
	req := chiRequest(http.MethodGet, "/fetch/store1/data/missing", map[string]string{"storeId": "store1", "*": "data/missing"})
	w := httptest.NewRecorder()
	e.GetFile(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
