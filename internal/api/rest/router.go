package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/infrastructure/auth"
)

// RouterConfig carries the collaborators of the HTTP surface. WebSocket
// and Verifier are optional.
type RouterConfig struct {
	Engine         Engine
	DeadLetters    DeadLetters
	WebSocket      http.Handler
	Verifier       *auth.Verifier
	AllowedOrigins []string
	RequestTimeout time.Duration
	Version        string
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	h := NewHandler(cfg.Engine, cfg.DeadLetters, cfg.Logger, cfg.Version)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverer(cfg.Logger))
	r.Use(Metrics)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	if cfg.WebSocket != nil {
		r.Handle("/ws", cfg.WebSocket)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(RequestLogger(cfg.Logger))
		api.Use(cors(cfg.AllowedOrigins))
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Get("/auctions", h.ListAuctions)
		api.Get("/auctions/{id}", h.GetAuction)

		api.Group(func(authed chi.Router) {
			authed.Use(RequireIdentity(cfg.Verifier))
			authed.Post("/auctions", h.CreateAuction)
			authed.Post("/auctions/{id}/bids", h.PlaceBid)
		})

		api.Route("/admin/dead-letters", func(admin chi.Router) {
			admin.Get("/", h.ListDeadLetters)
			admin.Post("/{id}/retry", h.RetryDeadLetter)
			admin.Delete("/{id}", h.DiscardDeadLetter)
		})
	})

	return r
}

// cors allows browser calls from the configured origins.
func cors(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed[origin] || allowed["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
