package http

import (
	"context"
	"net/http"
	"path"
	"sync"
	"time"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/metrics"
	"kakeibo/internal/middleware/cors"
	"kakeibo/internal/middleware/ratelimit"
	"kakeibo/internal/middleware/trace"
)

// RecordService is the set of record operations the handlers need.
type RecordService interface {
	List(ctx context.Context) (core.Collection, error)
	Total(ctx context.Context) (float64, error)
	Summary(ctx context.Context) (map[string]float64, error)
	Create(ctx context.Context, f core.Fields) (core.Record, error)
	Update(ctx context.Context, id string, f core.Fields) (core.Record, error)
	Delete(ctx context.Context, id string) (int, error)
}

// Options configures the optional parts of a Server.
type Options struct {
	Logger  *applog.Logger
	Metrics *metrics.Metrics

	// Mutating requests per minute per client, 0 disables limiting.
	RateLimitRPM   int
	RateLimitBurst int
}

type Server struct {
	http.Server
	records     RecordService
	logger      *applog.Logger
	metrics     *metrics.Metrics
	rateLimiter *ratelimit.Limiter
	tracer      *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, records RecordService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger, _ = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		records: records,
		logger:  logger,
		metrics: opts.Metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /records", s.handleList)
	mux.HandleFunc("GET /records/total", s.handleTotal)
	mux.HandleFunc("GET /records/summary", s.handleSummary)
	mux.HandleFunc("POST /records", s.handleCreate)
	mux.HandleFunc("PUT /records/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /records/{id}", s.handleDelete)
	// Everything else, including other methods on known paths.
	mux.HandleFunc("/", s.handleNotFound)

	var handler http.Handler = mux
	if opts.RateLimitRPM > 0 {
		s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitRPM,
			Burst:             opts.RateLimitBurst,
		})
		handler = s.rateLimiter.Middleware(trace.RemoteIP, s.handleRateLimited,
			http.MethodPost, http.MethodPut, http.MethodDelete)(handler)
	}
	handler = routable(handler)
	handler = cors.Middleware(handler)

	var recorder trace.Recorder
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}
	s.tracer = trace.NewMiddleware(logger, recorder)
	s.Handler = s.tracer.Middleware(handler)

	return s
}

// routable answers 404 for methods outside the routing table and for
// non-canonical paths, which ServeMux would otherwise redirect or serve
// (HEAD falls through to GET patterns).
func routable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		default:
			writeErrorMessage(w, http.StatusNotFound, msgNotFound)
			return
		}
		if p := r.URL.Path; p == "" || p != path.Clean(p) {
			writeErrorMessage(w, http.StatusNotFound, msgNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server and the rate limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// TotalRequests reports how many requests the server has handled.
func (s *Server) TotalRequests() int64 {
	return s.tracer.TotalRequests()
}
