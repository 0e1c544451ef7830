package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"loyaltysdk/gateway/middleware"
)

const (
	ReadLimitKey  = "read"
	WriteLimitKey = "write"
)

type Config struct {
	Token          TokenService
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	CORS           middleware.CORSConfig
	WriteScope     string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// New assembles the gateway's HTTP surface. Reads are public; writes pass the
// authenticator with the configured scope.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	h := &tokenRoutes{
		svc:     cfg.Token,
		timeout: cfg.RequestTimeout,
		logger:  logger.With(slog.String("component", "gateway.token")),
	}
	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			if cfg.RateLimiter != nil {
				read.Use(cfg.RateLimiter.Middleware(ReadLimitKey))
			}
			h.mountReads(read)
		})
		v1.Group(func(write chi.Router) {
			if cfg.RateLimiter != nil {
				write.Use(cfg.RateLimiter.Middleware(WriteLimitKey))
			}
			if cfg.Authenticator != nil {
				scope := cfg.WriteScope
				if scope == "" {
					write.Use(cfg.Authenticator.Middleware())
				} else {
					write.Use(cfg.Authenticator.Middleware(scope))
				}
			}
			h.mountWrites(write)
		})
	})
	return r
}
