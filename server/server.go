// Package server wires the middleware chain into a net/http.Server,
// handling graceful restart via tableflip and exposing the local-only
// operational routes (metrics, health, version) alongside the public
// caching endpoint.
//
// Grounded on the teacher's server/server.go: the same localMatcher
// host-gated split between an internal ServeMux and the main proxy
// handler, the same buildHandler shape (RoundTrip once, copy
// status/header/body to the ResponseWriter with a pooled buffer,
// skip body copy for HEAD, warn on a Content-Length mismatch), and the
// same buildEndpoint/buildMiddlewareChain wiring — narrowed from the
// teacher's dynamically configured middleware list (server.Middleware
// conf entries resolved through a plugin registry) to this server's
// fixed two-stage chain (recovery, caching), since SPEC_FULL.md names a
// closed set of middleware rather than a pluggable one.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devojony/mediacache/conf"
	"github.com/devojony/mediacache/contrib/log"
	"github.com/devojony/mediacache/contrib/transport"
	"github.com/devojony/mediacache/internal/cachemanager"
	"github.com/devojony/mediacache/metrics"
	"github.com/devojony/mediacache/pkg/buildinfo"
	"github.com/devojony/mediacache/pkg/xhttp"
	"github.com/devojony/mediacache/server/middleware"
	"github.com/devojony/mediacache/server/middleware/caching"
	"github.com/devojony/mediacache/server/middleware/recovery"
	"github.com/devojony/mediacache/server/mod"
)

var localMatcher = map[string]struct{}{
	"localhost": {},
	"127.1":     {},
	"127.0.0.1": {},
	"":          {}, // unix socket listeners report an empty Host
}

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// HTTPServer is the proxy's single transport.Server.
type HTTPServer struct {
	*http.Server

	flip         *tableflip.Upgrader
	config       *conf.Bootstrap
	serverConfig *conf.Server
	listener     net.Listener
	manager      *cachemanager.Manager
}

// NewServer builds the HTTP server: an origin RoundTripper, the
// recovery->caching middleware chain wrapped around it, and the
// local-vs-public request split.
func NewServer(flip *tableflip.Upgrader, bc *conf.Bootstrap, manager *cachemanager.Manager, origin http.RoundTripper) transport.Server {
	sc := bc.Server

	s := &HTTPServer{
		Server: &http.Server{
			Addr:              sc.Addr,
			ReadTimeout:       sc.ReadTimeout,
			WriteTimeout:      sc.WriteTimeout,
			IdleTimeout:       sc.IdleTimeout,
			ReadHeaderTimeout: sc.ReadHeaderTimeout,
			MaxHeaderBytes:    sc.MaxHeaderBytes,
		},
		flip:         flip,
		config:       bc,
		serverConfig: sc,
		manager:      manager,
	}

	for _, host := range sc.LocalAPIAllowHosts {
		localMatcher[host] = struct{}{}
	}

	mux := s.newServeMux()
	next := s.buildEndpoint(origin)

	s.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := localMatcher[hostOnly(r.Host)]; ok && r.URL.Path != "/" {
			mux.ServeHTTP(w, r)
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		next(w, r)
	})

	return s
}

func hostOnly(addr string) string {
	if i := strings.IndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// Start begins serving on a tableflip-managed listener.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.BaseContext = func(net.Listener) context.Context { return ctx }

	if err := s.listen(); err != nil {
		return err
	}
	log.Infof("mediacache HTTP server listening on %s", s.serverConfig.Addr)

	if err := s.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server and the cache manager.
func (s *HTTPServer) Stop(ctx context.Context) error {
	var errs []error
	if err := s.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (s *HTTPServer) listen() error {
	ln, err := s.flip.Listen("tcp", s.serverConfig.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.serverConfig.Addr, err)
	}
	s.listener = ln
	return nil
}

func (s *HTTPServer) newServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/favicon.ico", http.NotFoundHandler())

	mux.Handle("/version", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := json.Marshal(buildinfo.Build)
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}))

	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	mux.Handle("/healthz/liveness-probe", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.Handle("/healthz/readiness-probe", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.CacheBytesTotal.Set(float64(s.manager.TotalBytes()))
		metrics.RequestRate.Set(float64(s.manager.RequestRate()))
		w.WriteHeader(http.StatusOK)
	}))

	return mux
}

// buildHandler dispatches one request through tripper and copies the
// resulting *http.Response onto w.
func (s *HTTPServer) buildHandler(tripper http.RoundTripper) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		clog := log.Context(req.Context())

		resp, err := tripper.RoundTrip(req)
		if err != nil {
			clog.Errorf("request %s %s failed: %v", req.Method, req.URL.Path, err)

			status := http.StatusInternalServerError
			var oerr *caching.OriginError
			if errors.As(err, &oerr) {
				status = http.StatusBadGateway
			}

			body := []byte(http.StatusText(status))
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(status)
			_, _ = w.Write(body)

			metrics.RequestsTotal.WithLabelValues(req.Proto, strconv.Itoa(status)).Inc()
			return
		}
		defer func() {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
		}()

		xhttp.CopyHeader(w.Header(), resp.Header)
		xhttp.RemoveHopByHopHeaders(w.Header())
		w.WriteHeader(resp.StatusCode)

		if resp.Body == nil || req.Method == http.MethodHead {
			metrics.RequestsTotal.WithLabelValues(req.Proto, strconv.Itoa(resp.StatusCode)).Inc()
			return
		}

		buf := bufPool.Get().(*[]byte)
		defer bufPool.Put(buf)

		want := resp.Header.Get("Content-Length")
		sent, err := io.CopyBuffer(w, resp.Body, *buf)
		if err != nil && !errors.Is(err, io.EOF) {
			clog.Errorf("copying response body to client failed: %s %s sent=%d want=%s err=%v", req.Method, req.URL.Path, sent, want, err)
			metrics.RequestUnexpectedClosed.WithLabelValues(req.Proto, req.Method).Inc()
			metrics.RequestsTotal.WithLabelValues(req.Proto, strconv.Itoa(resp.StatusCode)).Inc()
			return
		}

		if want != "" {
			if wantN, err := strconv.ParseInt(want, 10, 64); err == nil && wantN != sent {
				clog.Warnf("sent %d response body bytes, Content-Length said %s", sent, want)
			}
		}
		metrics.RequestsTotal.WithLabelValues(req.Proto, strconv.Itoa(resp.StatusCode)).Inc()
	}
}

func (s *HTTPServer) buildEndpoint(origin http.RoundTripper) http.HandlerFunc {
	tripper := middleware.Chain(recovery.Middleware, caching.Middleware(s.manager, caching.DefaultTeeBufSlots))(origin)
	next := s.buildHandler(tripper)
	return mod.HandleAccessLog(s.serverConfig.AccessLog, next)
}
