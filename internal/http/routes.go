package http

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
)

// RouterConfig configures the /api subrouter middleware.
type RouterConfig struct {
	RequestTimeout time.Duration
	// Limiter throttles /api requests; nil disables rate limiting.
	Limiter *rate.Limiter
	// Traffic receives rate limiter decisions; may be nil.
	Traffic *traffic.Tracker
}

// NewRouter wires every route and middleware. /health and /metrics sit outside
// the rate limiter and request timeout.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, cfg.Traffic))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	// One route per path: mux loses a method mismatch when a later sibling
	// route under the same prefix is tried, which turns 405 into 404.
	api.Handle("/weather", methodHandler{http.MethodGet: h.GetWeather})
	api.Handle("/crud", methodHandler{
		http.MethodPost:   h.CreateRecord,
		http.MethodGet:    h.ListRecords,
		http.MethodPut:    h.UpdateRecord,
		http.MethodDelete: h.DeleteRecord,
	})
	api.Handle("/export", methodHandler{http.MethodGet: h.Export})

	return router
}

// methodHandler dispatches on the request method and answers 405 with an
// Allow header for any other method.
type methodHandler map[string]http.HandlerFunc

func (m methodHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := m[r.Method]; ok {
		h(w, r)
		return
	}
	allowed := make([]string, 0, len(m))
	for method := range m {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed", "")
}
