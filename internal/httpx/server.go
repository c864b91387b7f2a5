package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterOptions struct {
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	RateRPS   float64
	RateBurst int
}

// NewRouter builds the shared middleware stack. Handlers set their own
// deadlines; a router-wide timeout would also cut websocket sessions.
func NewRouter(opts RouterOptions) *chi.Mux {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(requestLogger(log), accessLog, httpMetrics(opts.Metrics))
	r.Use(middleware.Recoverer)
	if opts.RateRPS > 0 {
		r.Use(newIPRateLimiter(opts.RateRPS, opts.RateBurst).middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
