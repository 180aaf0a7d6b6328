// Package httpapi serves the REST surface. Every route is generated from
// the toolcall operation table, so the REST API and the MCP tools stay in
// lockstep by construction.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/toolcall"
	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/version"
)

// Options configures the HTTP surface.
type Options struct {
	// AuthDisabled injects a synthetic admin identity into every request.
	// Local development only; serve logs a loud warning.
	AuthDisabled bool

	// MCPEnabled mounts the streamable MCP transport on /mcp, behind the
	// same bearer auth as the REST routes.
	MCPEnabled bool

	// RequestTimeout bounds one request; zero takes the default.
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 60 * time.Second

// Server owns the router and its dependencies.
type Server struct {
	coord *core.Coordinator
	log   zerolog.Logger
	opts  Options
	mcp   *sdkmcp.Server
}

// New builds the HTTP surface around a coordinator.
func New(coord *core.Coordinator, log zerolog.Logger, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{coord: coord, log: log, opts: opts}
	if opts.MCPEnabled {
		s.mcp = toolcall.NewMCPServer(coord, version.Version, func(ctx context.Context) (*types.Identity, error) {
			id := toolcall.IdentityFrom(ctx)
			if id == nil {
				return nil, types.NewError(types.ErrAuthDenied, "authentication required")
			}
			return id, nil
		})
	}
	return s
}

// Routes assembles the router: open health and metrics endpoints, then the
// authenticated operation routes generated from the table.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))

	r.Get("/v1/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		for _, op := range toolcall.Registry() {
			r.Method(op.Method, op.Path, s.operation(op))
		}
		if s.mcp != nil {
			h := sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return s.mcp }, nil)
			r.Handle("/mcp", h)
		}
	})
	return r
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	MinClient string `json:"min_client"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.log, w, http.StatusOK, healthResponse{
		Status:    "ok",
		Version:   version.Version,
		MinClient: version.MinClient,
	})
}

// operation adapts one table entry into a chi handler: authorize, decode,
// call, encode.
func (s *Server) operation(op toolcall.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := toolcall.IdentityFrom(r.Context())
		if err := toolcall.Authorize(id, &op); err != nil {
			s.writeError(w, r, err)
			return
		}
		in, err := decodeInput(&op, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out, err := op.Call(r.Context(), s.coord, id, in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(s.log, w, http.StatusOK, out)
	}
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
