package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mind-engage/orthanflow-lti/internal/metrics"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	LTI         *LTIHandlers
	Resources   *ResourceHandlers
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Ready       map[string]Pinger
	Log         *zap.Logger
}

func NewRouter(cfg RouterConfig) chi.Router {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, RequestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", readyHandler(cfg.Ready))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	if cfg.LTI != nil {
		if cfg.LTI.Log == nil {
			cfg.LTI.Log = log
		}
		MountLTI(r, cfg.LTI)
	}
	if cfg.Resources != nil {
		if cfg.Resources.Log == nil {
			cfg.Resources.Log = log
		}
		MountResources(r, cfg.Resources)
	}
	return r
}

func readyHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for name, p := range deps {
			if err := p.Ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "failed": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ready": true})
	}
}
