package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

// Location selects a place by name or by coordinates. Coordinates win when both are set.
type Location struct {
	Name        string
	Coordinates *models.Coordinates
}

func (l Location) String() string {
	if l.Coordinates != nil {
		return fmt.Sprintf("%g,%g", l.Coordinates.Lat, l.Coordinates.Lon)
	}
	return l.Name
}

type WeatherClient interface {
	GetCurrent(ctx context.Context, loc Location) (models.WeatherSnapshot, error)
	GetForecast(ctx context.Context, loc Location, days int) ([]models.ForecastDay, error)
}

var (
	ErrMissingAPIKey    = errors.New("weather API key missing")
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrCircuitOpen      = errors.New("weather provider temporarily unavailable")
	ErrMissingLocation  = errors.New("location or coordinates required")
)

// ProviderError carries the upstream status and message of a failed provider call.
// StatusCode is 0 when the request never got a response.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("weather provider error")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

const (
	endpointCurrent  = "current"
	endpointForecast = "forecast"

	breakerComponent = "weather_api"
	maxErrorBody     = 4 << 10
)

// Config configures a WeatherbitClient. APIKey may be empty; every call then
// fails with ErrMissingAPIKey before touching the network.
type Config struct {
	APIKey                  string
	BaseURL                 string
	Timeout                 time.Duration
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration
}

// WeatherbitClient talks to the Weatherbit v2.0 REST API.
type WeatherbitClient struct {
	apiKey  string
	baseURL *url.URL
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewWeatherbitClient(cfg Config) (*WeatherbitClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	threshold := cfg.BreakerFailureThreshold
	if threshold <= 0 {
		threshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    breakerComponent,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isBreakerFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.SetCircuitBreakerState(name, float64(to))
		},
	})
	observability.SetCircuitBreakerState(breakerComponent, float64(gobreaker.StateClosed))

	return &WeatherbitClient{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: base,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}, nil
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *WeatherbitClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

type conditionPayload struct {
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	Code        flexInt `json:"code"`
}

func (p conditionPayload) toModel() models.Condition {
	return models.Condition{Description: p.Description, Icon: p.Icon, Code: int(p.Code)}
}

type currentResponse struct {
	Data []struct {
		CityName string           `json:"city_name"`
		Temp     float64          `json:"temp"`
		AppTemp  float64          `json:"app_temp"`
		RH       float64          `json:"rh"`
		WindSpd  float64          `json:"wind_spd"`
		Clouds   int              `json:"clouds"`
		Weather  conditionPayload `json:"weather"`
		Sunrise  string           `json:"sunrise"`
		Sunset   string           `json:"sunset"`
		ObTime   string           `json:"ob_time"`
	} `json:"data"`
}

type forecastResponse struct {
	CityName string `json:"city_name"`
	Data     []struct {
		ValidDate string           `json:"valid_date"`
		Datetime  string           `json:"datetime"`
		MaxTemp   float64          `json:"max_temp"`
		MinTemp   float64          `json:"min_temp"`
		Temp      float64          `json:"temp"`
		Weather   conditionPayload `json:"weather"`
	} `json:"data"`
}

type errorResponse struct {
	Error         string `json:"error"`
	StatusMessage string `json:"status_message"`
}

// GetCurrent fetches current conditions for loc.
func (c *WeatherbitClient) GetCurrent(ctx context.Context, loc Location) (models.WeatherSnapshot, error) {
	var resp currentResponse
	if err := c.fetch(ctx, endpointCurrent, "current", loc, nil, &resp); err != nil {
		return models.WeatherSnapshot{}, err
	}
	if len(resp.Data) == 0 {
		return models.WeatherSnapshot{}, &ProviderError{StatusCode: http.StatusNotFound, Message: "no data for " + loc.String(), Err: ErrLocationNotFound}
	}
	d := resp.Data[0]
	return models.WeatherSnapshot{
		CityName:   d.CityName,
		Temp:       d.Temp,
		AppTemp:    d.AppTemp,
		Humidity:   d.RH,
		WindSpeed:  d.WindSpd,
		Clouds:     d.Clouds,
		Weather:    d.Weather.toModel(),
		Sunrise:    d.Sunrise,
		Sunset:     d.Sunset,
		ObservedAt: d.ObTime,
	}, nil
}

// GetForecast fetches a daily forecast of the given horizon, ascending by date.
func (c *WeatherbitClient) GetForecast(ctx context.Context, loc Location, days int) ([]models.ForecastDay, error) {
	extra := url.Values{}
	if days > 0 {
		extra.Set("days", strconv.Itoa(days))
	}
	var resp forecastResponse
	if err := c.fetch(ctx, endpointForecast, "forecast/daily", loc, extra, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderError{StatusCode: http.StatusNotFound, Message: "no data for " + loc.String(), Err: ErrLocationNotFound}
	}
	out := make([]models.ForecastDay, 0, len(resp.Data))
	for _, d := range resp.Data {
		date := d.ValidDate
		if date == "" {
			date = d.Datetime
		}
		out = append(out, models.ForecastDay{
			Date:    date,
			MaxTemp: d.MaxTemp,
			MinTemp: d.MinTemp,
			Temp:    d.Temp,
			Weather: d.Weather.toModel(),
		})
	}
	return out, nil
}

// fetch runs one GET through the circuit breaker and decodes the JSON body into out.
func (c *WeatherbitClient) fetch(ctx context.Context, endpoint, path string, loc Location, extra url.Values, out interface{}) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	req, err := c.buildRequest(ctx, path, loc, extra)
	if err != nil {
		return err
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(req, endpoint)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &ProviderError{StatusCode: http.StatusServiceUnavailable, Err: ErrCircuitOpen}
		}
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		observability.LoggerFromContext(ctx).Debug("weather provider call failed",
			zap.String("endpoint", endpoint),
			zap.String("location", loc.String()),
			zap.Error(err))
		return err
	}

	if err := json.Unmarshal(body.([]byte), out); err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(ErrorCategoryParsing)).Inc()
		return &ProviderError{Message: "malformed provider response", Err: fmt.Errorf("%w: parse response: %v", ErrUpstreamFailure, err)}
	}
	return nil
}

// do performs the HTTP exchange and returns the raw 2xx body.
func (c *WeatherbitClient) do(req *http.Request, endpoint string) ([]byte, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &ProviderError{Message: "request timeout", Err: fmt.Errorf("%w: %w", ErrUpstreamFailure, err)}
		}
		return nil, &ProviderError{Message: "weather provider unreachable", Err: fmt.Errorf("%w: http request failed: %w", ErrUpstreamFailure, err)}
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Message: "read response body", Err: fmt.Errorf("%w: %w", ErrUpstreamFailure, err)}
	}
	return body, nil
}

func (c *WeatherbitClient) buildRequest(ctx context.Context, path string, loc Location, extra url.Values) (*http.Request, error) {
	params := url.Values{}
	switch {
	case loc.Coordinates != nil:
		params.Set("lat", strconv.FormatFloat(loc.Coordinates.Lat, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(loc.Coordinates.Lon, 'f', -1, 64))
	case strings.TrimSpace(loc.Name) != "":
		params.Set("city", strings.TrimSpace(loc.Name))
	default:
		return nil, ErrMissingLocation
	}
	params.Set("key", c.apiKey)
	params.Set("units", "M")
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// handleErrorResponse maps a non-2xx (or empty 204) response to a ProviderError.
func handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusNoContent {
		return &ProviderError{StatusCode: http.StatusNotFound, Message: "no weather data for this location", Err: ErrLocationNotFound}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := readErrorMessage(resp.Body)
	pe := &ProviderError{StatusCode: resp.StatusCode, Message: msg}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		pe.Err = ErrInvalidAPIKey
	case resp.StatusCode == http.StatusNotFound:
		pe.Err = ErrLocationNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		pe.Err = ErrRateLimited
	default:
		pe.Err = ErrUpstreamFailure
	}
	return pe
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil {
		if er.Error != "" {
			return er.Error
		}
		if er.StatusMessage != "" {
			return er.StatusMessage
		}
	}
	return ""
}

// isBreakerFailure reports whether err says the provider itself is unhealthy.
// Caller mistakes (bad key, unknown city) leave the breaker alone.
func isBreakerFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return true
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if !errors.Is(err, ErrUpstreamFailure) {
		return false
	}
	return pe.StatusCode == 0 || pe.StatusCode >= 500
}

func statusLabel(statusCode int) string {
	if statusCode == http.StatusNoContent {
		return "no_content"
	}
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// flexInt decodes a JSON number or numeric string; Weatherbit has shipped both for weather.code.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("weather code %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}
