package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ainvaltin/httpsrv"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	apihandlers "powledger/api/handlers"
	"powledger/metrics"
	"powledger/p2p"
)

const (
	DefaultMaxBodySize = 1 << 20
	DefaultMineTimeout = 4 * time.Minute
	shutdownTimeout    = 5 * time.Second
	// room left after the proof search for writing the /mine response
	mineResponseMargin = 10 * time.Second
)

var allowedCORSHeaders = []string{p2p.Accept, "Accept-Language", "Content-Language", "Origin", p2p.ContentType}

type Config struct {
	Addr         string
	MaxBodySize  int64
	WriteTimeout time.Duration
	// MineTimeout bounds the proof search of /mine. WriteTimeout is raised when it would
	// cut off the response of a search ending just in time.
	MineTimeout time.Duration
}

type routerConfig struct {
	mineTimeout time.Duration
}

type RouterOption func(*routerConfig)

// WithMineTimeout bounds the proof search started by /mine.
func WithMineTimeout(d time.Duration) RouterOption {
	return func(c *routerConfig) { c.mineTimeout = d }
}

// NewServer returns the HTTP server of the node API, it is started with Run.
func NewServer(cfg Config, svc apihandlers.NodeService, m *metrics.Metrics, log zerolog.Logger) http.Server {
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	mineTimeout := cfg.MineTimeout
	if mineTimeout <= 0 {
		mineTimeout = DefaultMineTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Minute
	}
	if writeTimeout < mineTimeout+mineResponseMargin {
		writeTimeout = mineTimeout + mineResponseMargin
	}
	return http.Server{
		Addr:              cfg.Addr,
		ReadTimeout:       3 * time.Second,
		ReadHeaderTimeout: time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       30 * time.Second,
		Handler:           http.MaxBytesHandler(NewRouter(svc, m, log, WithMineTimeout(mineTimeout)), maxBody),
	}
}

// Run serves until ctx is cancelled and then shuts the server down gracefully.
func Run(ctx context.Context, server http.Server) error {
	return httpsrv.Run(ctx, server, httpsrv.ShutdownTimeout(shutdownTimeout))
}

// NewRouter configures all HTTP endpoints of the node.
func NewRouter(svc apihandlers.NodeService, m *metrics.Metrics, log zerolog.Logger, opts ...RouterOption) http.Handler {
	cfg := routerConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)

	r.Use(
		handlers.CORS(handlers.AllowedHeaders(allowedCORSHeaders)),
		hlog.NewHandler(log),
		instrumentHTTP(m),
	)

	handle := func(path string, h func(http.ResponseWriter, *http.Request, apihandlers.NodeService), methods ...string) {
		r.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			h(w, req, svc)
		}).Methods(append(methods, http.MethodOptions)...)
	}
	handle(p2p.MinePath, apihandlers.MineWithTimeout(cfg.mineTimeout), http.MethodGet)
	handle(p2p.NewTransactionPath, apihandlers.HandleNewTransaction, http.MethodPost)
	handle(p2p.ChainPath, apihandlers.HandleChain, http.MethodGet)
	handle(p2p.RegisterNodesPath, apihandlers.HandleRegisterNodes, http.MethodPost)
	handle(p2p.NodesPath, apihandlers.HandleNodes, http.MethodGet)
	handle(p2p.ResolvePath, apihandlers.HandleResolve, http.MethodGet)

	r.Handle(p2p.MetricsPath, m.Handler()).Methods(http.MethodGet)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{log: log}),
		handlers.PrintRecoveryStack(true),
	)(r)
}

/*
instrumentHTTP returns middleware which logs the request and records
  - number of calls per route and status;
  - how long it took to serve the request.
*/
func instrumentHTTP(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			route := req.URL.Path
			if cr := mux.CurrentRoute(req); cr != nil {
				if tmpl, err := cr.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			start := time.Now()
			rsp := newStatusResponseWriter(w)
			next.ServeHTTP(rsp, req)

			d := time.Since(start)
			m.HTTPCall(route, rsp.statusCode, d)
			hlog.FromRequest(req).Debug().
				Str("method", req.Method).
				Str("route", route).
				Int("status", rsp.statusCode).
				Dur("duration", d).
				Msg("request served")
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newStatusResponseWriter(w http.ResponseWriter) *statusResponseWriter {
	return &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

type recoveryLogger struct {
	log zerolog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.log.Error().Msg("recovered from panic in HTTP handler: " + fmt.Sprint(v...))
}
