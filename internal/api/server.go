package api

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"fieldplan/internal/auth"
	"fieldplan/internal/config"
	"fieldplan/internal/metrics"
	"fieldplan/internal/planner"
	"fieldplan/internal/store"
	"fieldplan/internal/webhooks"
)

type Server struct {
	Store   store.Store
	Planner *planner.Service
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker
	Log     *slog.Logger

	cfg      *config.Config
	limiters *ipLimiters
}

// NewServer wires the service from configuration. An empty DATABASE_URL
// selects the in-memory store; an empty REDIS_URL the in-process broker.
func NewServer(cfg *config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
		log.Info("store: in-memory")
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.MigrateDir != "" {
			if err := sp.MigrateDir(cfg.MigrateDir); err != nil {
				log.Warn("store: migrations failed", "dir", cfg.MigrateDir, "err", err)
			}
		}
		st = sp
		log.Info("store: postgres")
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
			log.Info("broker: redis")
		} else {
			log.Warn("broker: redis unavailable, falling back to in-process", "err", err)
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	metrics.RegisterDefault()
	return &Server{
		Store:   st,
		Planner: planner.New(st, log),
		Pub:     webhooks.NewPublisher(st),
		Auth:    auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret, cfg.Auth.JWKSURL),
		Broker:  broker,
		Log:     log,
		cfg:     cfg,
		limiters: newIPLimiters(
			rate.Limit(float64(cfg.Optimize.RatePerMinute)/60.0),
			cfg.Optimize.RateBurst,
		),
	}, nil
}

// NewWebhookWorker creates the background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.cfg.Webhook.MaxAttempts)
}

// Routes builds the full mux, instrumented for logging and Prometheus.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/plannings", s.PlanningsHandler)
	mux.HandleFunc("/v1/plannings/", s.PlanningByIDHandler) // includes /apply, /events/stream
	mux.HandleFunc("/v1/parameters", s.ParametersHandler)
	mux.HandleFunc("/v1/parameters/", s.ParameterByIDHandler)
	mux.HandleFunc("/v1/travel/estimate", s.TravelEstimateHandler)
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/events/ws", s.EventsWSHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	mux.HandleFunc("/swagger", s.SwaggerHandler)

	return s.instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Streaming endpoints manage their own lifecycle and would skew the
		// duration histogram.
		if r.URL.Path == "/v1/events/ws" || strings.HasSuffix(r.URL.Path, "/events/stream") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
		s.Log.Info("http",
			"method", r.Method, "path", r.URL.Path, "status", rec.status,
			"remote", r.RemoteAddr, "tookMs", dur.Milliseconds())
	})
}

// ipLimiters applies a per-client token bucket to the optimize endpoint.
type ipLimiters struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

func newIPLimiters(limit rate.Limit, burst int) *ipLimiters {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiters{m: map[string]*rate.Limiter{}, limit: limit, burst: burst}
}

func (l *ipLimiters) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	l.mu.Lock()
	lim := l.m[host]
	if lim == nil {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.m[host] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
