// Package httpserver wraps http.Server with TLS (including optional mutual
// TLS) and verbose request logging, adapted from perkeep's pkg/webserver
// (its Server type wraps an http.ServeMux and toggles verbose logging off
// an env var); this version drives a chi.Router instead and always logs
// through zerolog, since the propagation server's routes need path
// parameters and wildcard tails a plain ServeMux can't express.
package httpserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/storepeer/propagator/internal/log"
)

// TLSConfig configures the server's listener.
type TLSConfig struct {
	CertFile      string
	KeyFile       string
	ClientCAFile  string // optional; enables mutual TLS when set
	RequireClient bool   // require a verified client certificate
}

// Server is an http.Server with request logging and graceful shutdown.
type Server struct {
	inner  *http.Server
	logger zerolog.Logger
}

// New builds a Server serving handler at addr with the given TLS settings.
func New(addr string, handler http.Handler, tlsCfg TLSConfig) (*Server, error) {
	logger := log.WithComponent("httpserver")

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if tlsCfg.ClientCAFile != "" {
		pem, err := os.ReadFile(tlsCfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client CA bundle contains no usable certificates")
		}
		cfg.ClientCAs = pool
		if tlsCfg.RequireClient {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			cfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}

	s := &Server{
		inner: &http.Server{
			Addr:         addr,
			Handler:      loggingMiddleware(logger, handler),
			TLSConfig:    cfg,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // fetch responses can be large; no fixed cap
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
	_ = tlsCfg.CertFile
	_ = tlsCfg.KeyFile
	return s, nil
}

// ListenAndServeTLS starts serving and blocks until the server stops.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	s.logger.Info().Str("addr", s.inner.Addr).Msg("listening")
	err := s.inner.ListenAndServeTLS(certFile, keyFile)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting up to the context deadline
// for in-flight requests (notably long fetch streams) to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down")
	return s.inner.Shutdown(ctx)
}

func loggingMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", rw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}
