package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/service"
	"github.com/kjstillabower/weather-lookup-service/internal/store"
	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
)

type mockWeatherClient struct {
	current     models.WeatherSnapshot
	forecast    []models.ForecastDay
	currentErr  error
	forecastErr error
	block       chan struct{} // if set, calls block until ctx.Done() or the channel closes

	calls int32
}

func (m *mockWeatherClient) wait(ctx context.Context) error {
	if m.block == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.block:
		return nil
	}
}

func (m *mockWeatherClient) GetCurrent(ctx context.Context, loc client.Location) (models.WeatherSnapshot, error) {
	atomic.AddInt32(&m.calls, 1)
	if err := m.wait(ctx); err != nil {
		return models.WeatherSnapshot{}, err
	}
	return m.current, m.currentErr
}

func (m *mockWeatherClient) GetForecast(ctx context.Context, loc client.Location, days int) ([]models.ForecastDay, error) {
	atomic.AddInt32(&m.calls, 1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.forecastErr != nil {
		return nil, m.forecastErr
	}
	if days > 0 && days < len(m.forecast) {
		return m.forecast[:days], nil
	}
	return m.forecast, nil
}

// failingStore fails every operation with a storage error.
type failingStore struct{}

func (failingStore) Create(context.Context, store.NewRecord) (models.WeatherRequestRecord, error) {
	return models.WeatherRequestRecord{}, fmt.Errorf("%w: disk I/O error", store.ErrStorage)
}
func (failingStore) List(context.Context) ([]models.WeatherRequestRecord, error) {
	return nil, fmt.Errorf("%w: database is locked", store.ErrStorage)
}
func (failingStore) UpdateTemperatures(context.Context, int64, []models.TemperaturePoint) (models.WeatherRequestRecord, error) {
	return models.WeatherRequestRecord{}, fmt.Errorf("%w: database is locked", store.ErrStorage)
}
func (failingStore) Delete(context.Context, int64) error {
	return fmt.Errorf("%w: database is locked", store.ErrStorage)
}
func (failingStore) Ping(context.Context) error { return fmt.Errorf("%w: ping", store.ErrStorage) }
func (failingStore) Close() error              { return nil }

func fiveDays() []models.ForecastDay {
	return []models.ForecastDay{
		{Date: "2024-06-01", Temp: 10, MaxTemp: 14, MinTemp: 6},
		{Date: "2024-06-02", Temp: 11, MaxTemp: 15, MinTemp: 7},
		{Date: "2024-06-03", Temp: 12, MaxTemp: 16, MinTemp: 8},
		{Date: "2024-06-04", Temp: 13, MaxTemp: 17, MinTemp: 9},
		{Date: "2024-06-05", Temp: 14, MaxTemp: 18, MinTemp: 10},
		{Date: "2024-06-06", Temp: 15, MaxTemp: 19, MinTemp: 11},
		{Date: "2024-06-07", Temp: 16, MaxTemp: 20, MinTemp: 12},
	}
}

func defaultMockClient() *mockWeatherClient {
	return &mockWeatherClient{
		current:  models.WeatherSnapshot{CityName: "Paris", Temp: 18.5, Weather: models.Condition{Description: "Clear sky"}},
		forecast: fiveDays(),
	}
}

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "weather.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type testEnv struct {
	router  *mux.Router
	client  *mockWeatherClient
	store   store.RecordStore
	traffic *traffic.Tracker
	logs    *observer.ObservedLogs
}

func newTestEnv(t *testing.T, mc *mockWeatherClient, st store.RecordStore) *testEnv {
	t.Helper()
	if mc == nil {
		mc = defaultMockClient()
	}
	if st == nil {
		st = newSQLiteStore(t)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	tracker := traffic.NewTracker(time.Minute)
	svc := service.NewWeatherService(mc, st, 5, 7)
	h := NewHandler(svc, HandlerConfig{
		LocationMinLength:  1,
		LocationMaxLength:  100,
		StorePing:          st.Ping,
		Traffic:            tracker,
		HealthMinSamples:   4,
		DegradedErrorRate:  0.5,
		OverloadDenialRate: 0.5,
	}, logger)
	return &testEnv{
		router:  NewRouter(h, RouterConfig{Traffic: tracker}, logger),
		client:  mc,
		store:   st,
		traffic: tracker,
		logs:    logs,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("X-Correlation-ID", "test-correlation-id")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v (raw %q)", err, w.Body.String())
	}
	return body
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}
