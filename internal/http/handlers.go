package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/export"
	"github.com/kjstillabower/weather-lookup-service/internal/lifecycle"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/service"
	"github.com/kjstillabower/weather-lookup-service/internal/store"
	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
	"github.com/kjstillabower/weather-lookup-service/internal/validation"
)

const (
	serviceName  = "weather-lookup-service"
	maxBodyBytes = 1 << 20
)

// Generic messages returned for each operation's failures.
const (
	msgWeatherFetchFailed = "Weather fetch failed"
	msgSaveFailed         = "Failed to save data"
	msgDatabaseError      = "Database error"
	msgExportFailed       = "Export failed"
	msgInvalidBody        = "Invalid request body"
	msgRecordNotFound     = "Record not found"
)

// HandlerConfig holds the knobs and probes the handlers need beyond the service.
type HandlerConfig struct {
	LocationMinLength int
	LocationMaxLength int
	// StorePing, when set, is called by /health to check database reachability.
	StorePing func(ctx context.Context) error
	// BreakerState, when set, reports the provider circuit breaker state to /health.
	BreakerState func() gobreaker.State
	// Traffic collects provider outcomes and rate limiter decisions; nil disables
	// the error-rate and overload checks.
	Traffic *traffic.Tracker
	// HealthMinSamples is the fewest windowed events a ratio check needs before it can fire.
	HealthMinSamples int
	// DegradedErrorRate and OverloadDenialRate are fractions in (0, 1].
	DegradedErrorRate  float64
	OverloadDenialRate float64
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   *service.WeatherService
	cfg              HandlerConfig
	logger           *zap.Logger
	validate         *validator.Validate
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(weatherService *service.WeatherService, cfg HandlerConfig, logger *zap.Logger) *Handler {
	return &Handler{
		weatherService: weatherService,
		cfg:            cfg,
		logger:         logger,
		validate:       validator.New(),
	}
}

// GetWeather handles GET /api/weather?location=… or ?lat=…&lon=…, with optional start/end.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	coords, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, userMessage(err), "")
		return
	}
	loc := client.Location{Coordinates: coords}
	if coords == nil {
		raw := q.Get("location")
		if strings.TrimSpace(raw) == "" {
			writeError(w, r, http.StatusBadRequest, userMessage(client.ErrMissingLocation), "")
			return
		}
		name, err := validation.ValidateLocation(raw, h.cfg.LocationMinLength, h.cfg.LocationMaxLength)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, userMessage(err), "")
			return
		}
		loc.Name = name
	}

	rng, err := validation.ParseDateRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, userMessage(err), "")
		return
	}

	result, err := h.weatherService.Lookup(r.Context(), loc, rng)
	h.recordProviderOutcome(err)
	if err != nil {
		writeServiceError(w, r, err, msgWeatherFetchFailed)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createRecordRequest struct {
	Location       string `json:"location" validate:"required"`
	DateRangeStart string `json:"dateRangeStart"`
	DateRangeEnd   string `json:"dateRangeEnd"`
}

type updateRecordRequest struct {
	ID           recordID                  `json:"id" validate:"required,gt=0"`
	Temperatures []models.TemperaturePoint `json:"temperatures" validate:"required,dive"`
}

type deleteRecordRequest struct {
	ID recordID `json:"id" validate:"required,gt=0"`
}

// CreateRecord handles POST /api/crud: fetch temperatures for the location
// (current, or the forecast over the given range) and persist a record.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, msgInvalidBody, "")
		return
	}
	if err := h.validate.Struct(req); err != nil || strings.TrimSpace(req.Location) == "" {
		writeError(w, r, http.StatusBadRequest, "Location is required", "")
		return
	}
	location, err := validation.ValidateLocation(req.Location, h.cfg.LocationMinLength, h.cfg.LocationMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, userMessage(err), "")
		return
	}
	rng, err := validation.ParseDateRange(req.DateRangeStart, req.DateRangeEnd)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, userMessage(err), "")
		return
	}

	rec, err := h.weatherService.Save(r.Context(), location, rng)
	h.recordProviderOutcome(err)
	if err != nil {
		writeServiceError(w, r, err, msgSaveFailed)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListRecords handles GET /api/crud.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.weatherService.ListRecords(r.Context())
	if err != nil {
		writeServiceError(w, r, err, msgDatabaseError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// UpdateRecord handles PUT /api/crud: replace a record's temperatures.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req updateRecordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, msgInvalidBody, "")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		msg := "ID and temperatures required"
		if failedOn(err, "datetime") {
			msg = "Invalid temperature date"
		}
		writeError(w, r, http.StatusBadRequest, msg, validationDetails(err))
		return
	}

	rec, err := h.weatherService.UpdateTemperatures(r.Context(), int64(req.ID), req.Temperatures)
	if err != nil {
		writeServiceError(w, r, err, msgDatabaseError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/crud with {"id": n} in the body or ?id=n.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	var req deleteRecordRequest
	if raw := r.URL.Query().Get("id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "ID required", "")
			return
		}
		req.ID = recordID(id)
	} else if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, msgInvalidBody, "")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ID required", "")
		return
	}

	if err := h.weatherService.DeleteRecord(r.Context(), int64(req.ID)); err != nil {
		writeServiceError(w, r, err, msgDatabaseError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Export handles GET /api/export?format=json|csv as a file download.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, userMessage(err), "")
		return
	}

	records, err := h.weatherService.ListRecords(r.Context())
	if err != nil {
		writeServiceError(w, r, err, msgExportFailed)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, records); err != nil {
		observability.LoggerFromContext(r.Context()).Error("export render failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, msgExportFailed, "")
		return
	}
	observability.ExportsTotal.WithLabelValues(string(format)).Inc()

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", "attachment; filename="+export.Filename(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   serviceName,
		"version":   "dev",
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if since := lifecycle.ShuttingDownSince(); !since.IsZero() {
		resp["drainingSince"] = since.UTC().Format(time.RFC3339)
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order: shutting-down >
// database unreachable > limiter saturated > breaker open or provider error rate (degraded) > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := map[string]string{"database": "healthy", "weatherApi": "healthy", "rateLimiter": "healthy"}
	snap := h.cfg.Traffic.Snapshot()
	if h.cfg.BreakerState != nil && h.cfg.BreakerState() == gobreaker.StateOpen {
		checks["weatherApi"] = "unhealthy"
	} else if h.ratioExceeded(snap.ProviderErrorRatio, h.cfg.DegradedErrorRate) {
		checks["weatherApi"] = "degraded"
	}
	if h.ratioExceeded(snap.DenialRatio, h.cfg.OverloadDenialRate) {
		checks["rateLimiter"] = "saturated"
	}
	if h.cfg.StorePing != nil {
		if err := h.cfg.StorePing(ctx); err != nil {
			checks["database"] = "unhealthy"
		}
	}

	switch {
	case lifecycle.IsShuttingDown():
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	case checks["database"] != "healthy":
		return healthResult{"unhealthy", http.StatusServiceUnavailable, "database_unreachable", checks}
	case checks["rateLimiter"] != "healthy":
		return healthResult{"overloaded", http.StatusServiceUnavailable, "rate_limit_saturation", checks}
	case checks["weatherApi"] == "unhealthy":
		return healthResult{"degraded", http.StatusOK, "circuit_open", checks}
	case checks["weatherApi"] != "healthy":
		return healthResult{"degraded", http.StatusOK, "provider_error_rate", checks}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

// ratioExceeded reports whether ratio() reaches threshold over at least HealthMinSamples events.
func (h *Handler) ratioExceeded(ratio func() (float64, int), threshold float64) bool {
	if h.cfg.Traffic == nil || threshold <= 0 {
		return false
	}
	r, n := ratio()
	return n >= h.cfg.HealthMinSamples && r >= threshold
}

// recordProviderOutcome feeds the degraded check. Only failures that point at the
// provider count as errors; caller mistakes and client cancellations are skipped.
func (h *Handler) recordProviderOutcome(err error) {
	switch {
	case err == nil:
		h.cfg.Traffic.Record(traffic.ProviderSuccess)
	case isProviderFailure(err):
		h.cfg.Traffic.Record(traffic.ProviderError)
	}
}

func isProviderFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, client.ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *client.ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode == 0 || pe.StatusCode >= 500
	}
	return false
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// writeError writes {"error", "details", "requestId"}; requestId is the correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, message, details string) {
	writeJSON(w, status, errorBody{
		Error:     message,
		Details:   details,
		RequestID: observability.CorrelationID(r.Context()),
	})
}

// userMessages holds the client-facing text for sentinels whose own message is
// not meant for API callers.
var userMessages = []struct {
	err error
	msg string
}{
	{validation.ErrDateRangeIncomplete, "Both start and end dates must be provided"},
	{validation.ErrInvalidDate, "Invalid date range"},
	{validation.ErrDateRangeOrder, "Invalid date range: start is after end"},
	{validation.ErrDateRangeTooLong, "Date range cannot exceed 5 days"},
	{client.ErrMissingAPIKey, "Weather API key missing"},
	{client.ErrMissingLocation, "Location or coordinates required"},
	{export.ErrUnsupportedFormat, "Unsupported format"},
}

// userMessage returns the response text for err, falling back to err's own message.
func userMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}

// writeServiceError maps a service-layer error to a status code and message.
// Provider errors keep the upstream status and a short detail; storage errors
// stay generic. The full error is always logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	logger := observability.LoggerFromContext(r.Context())
	var pe *client.ProviderError

	switch {
	case errors.Is(err, client.ErrMissingAPIKey):
		writeError(w, r, http.StatusInternalServerError, userMessage(client.ErrMissingAPIKey), "")
		logger.Error("weather provider not configured", zap.Error(err))
		return
	case errors.Is(err, client.ErrMissingLocation):
		writeError(w, r, http.StatusBadRequest, userMessage(client.ErrMissingLocation), "")
		return
	case errors.As(err, &pe):
		writeError(w, r, providerStatus(pe), message, providerDetails(pe))
		logger.Warn("weather provider error",
			zap.Int("upstream_status", pe.StatusCode),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, msgRecordNotFound, "")
		return
	case errors.Is(err, store.ErrIncompleteRange):
		writeError(w, r, http.StatusBadRequest, userMessage(validation.ErrDateRangeIncomplete), "")
		return
	case errors.Is(err, store.ErrStorage):
		writeError(w, r, http.StatusInternalServerError, message, "")
		logger.Error("storage error", zap.Error(err))
		return
	}

	writeError(w, r, http.StatusInternalServerError, message, "")
	logger.Error("request failed", zap.Error(err))
}

// providerStatus passes the upstream status through when it is a valid error status.
func providerStatus(pe *client.ProviderError) int {
	if pe.StatusCode >= 400 && pe.StatusCode <= 599 {
		return pe.StatusCode
	}
	return http.StatusInternalServerError
}

func providerDetails(pe *client.ProviderError) string {
	var b strings.Builder
	switch {
	case pe.StatusCode != 0:
		fmt.Fprintf(&b, "weather provider returned %d", pe.StatusCode)
	case pe.Err != nil:
		b.WriteString(pe.Err.Error())
	}
	if pe.Message != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(pe.Message)
	}
	return b.String()
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// validationDetails names the failing fields of a validator error.
func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ""
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace()+" "+fe.Tag())
	}
	return strings.Join(fields, "; ")
}

// failedOn reports whether a validator error includes a failure of the given tag.
func failedOn(err error, tag string) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		if fe.Tag() == tag {
			return true
		}
	}
	return false
}

// recordID accepts a JSON number or a numeric string.
type recordID int64

func (id *recordID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("record id %s: %w", b, err)
	}
	*id = recordID(n)
	return nil
}
