package httpx

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const headerUserID = "X-User-Id"

// requestLogger attaches a logger carrying the request id to the context.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			if uid := r.Header.Get(headerUserID); uid != "" {
				l = l.With(zap.String("caller", uid))
			}
			next.ServeHTTP(w, r.WithContext(logging.ContextWithLogger(r.Context(), l)))
		})
	}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context()).Info("http_access",
			zap.String("method", r.Method),
			zap.String("route", routePattern(r)),
			zap.String("path", r.URL.Path),
			zap.Int("status", status(ww)),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

func httpMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			m.ObserveHTTP(routePattern(r), r.Method, strconv.Itoa(status(ww)), time.Since(start))
		})
	}
}

// routePattern keeps metric labels low-cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func status(ww middleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

type ipRateLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	clients map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	if burst <= 0 {
		burst = int(rps) + 1
	}
	return &ipRateLimiter{rps: rate.Limit(rps), burst: burst, clients: make(map[string]*visitor)}
}

func (l *ipRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	v, ok := l.clients[ip]
	if !ok {
		if len(l.clients) > 10000 {
			l.evict(now)
		}
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (l *ipRateLimiter) evict(now time.Time) {
	for ip, v := range l.clients {
		if now.Sub(v.lastSeen) > 3*time.Minute {
			delete(l.clients, ip)
		}
	}
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !l.get(ip).Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Message: "Too many requests from this IP, please try again later."})
			return
		}
		next.ServeHTTP(w, r)
	})
}
