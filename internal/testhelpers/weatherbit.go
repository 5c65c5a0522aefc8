// Package testhelpers provides a fake Weatherbit API for tests that exercise
// the real client over HTTP.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// FakeWeatherbit serves /current and /forecast/daily. Cities in Known get data;
// anything else gets 204 No Content, as Weatherbit does for unknown places.
type FakeWeatherbit struct {
	*httptest.Server

	APIKey string
	// Today is the first forecast date.
	Today time.Time

	mu      sync.Mutex
	known   map[string]float64
	failing int
	calls   map[string]int
}

// NewFakeWeatherbit starts a fake API accepting apiKey. Each known city maps
// to its current temperature; forecast day i is that temperature plus i.
func NewFakeWeatherbit(t *testing.T, apiKey string, known map[string]float64) *FakeWeatherbit {
	t.Helper()
	now := time.Now().UTC()
	f := &FakeWeatherbit{
		APIKey: apiKey,
		Today:  time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		known:  make(map[string]float64, len(known)),
		calls:  make(map[string]int),
	}
	for city, temp := range known {
		f.known[strings.ToLower(city)] = temp
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// FailNext makes the next n requests answer 500.
func (f *FakeWeatherbit) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = n
}

// Calls returns how many requests hit path (e.g. "/current").
func (f *FakeWeatherbit) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *FakeWeatherbit) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[r.URL.Path]++
	failing := f.failing > 0
	if failing {
		f.failing--
	}
	f.mu.Unlock()

	q := r.URL.Query()
	switch {
	case failing:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	case q.Get("key") != f.APIKey:
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "API key not valid, or not yet activated."})
		return
	}

	city := strings.ToLower(q.Get("city"))
	if q.Get("lat") != "" && q.Get("lon") != "" {
		city = q.Get("lat") + "," + q.Get("lon")
	}
	f.mu.Lock()
	temp, ok := f.known[city]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.URL.Path {
	case "/current":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count": 1,
			"data": []map[string]interface{}{{
				"city_name": q.Get("city"),
				"temp":      temp,
				"app_temp":  temp - 1,
				"rh":        55,
				"wind_spd":  2.5,
				"clouds":    20,
				"sunrise":   "05:10",
				"sunset":    "20:45",
				"weather":   map[string]interface{}{"description": "Few clouds", "icon": "c02d", "code": 801},
			}},
		})
	case "/forecast/daily":
		days, err := strconv.Atoi(q.Get("days"))
		if err != nil || days <= 0 {
			days = 16
		}
		data := make([]map[string]interface{}, 0, days)
		for i := 0; i < days; i++ {
			date := f.Today.AddDate(0, 0, i).Format("2006-01-02")
			data = append(data, map[string]interface{}{
				"valid_date": date,
				"datetime":   date,
				"temp":       temp + float64(i),
				"max_temp":   temp + float64(i) + 4,
				"min_temp":   temp + float64(i) - 4,
				"weather":    map[string]interface{}{"description": "Clear sky", "icon": "c01d", "code": "800"},
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"city_name": q.Get("city"), "data": data})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Invalid endpoint"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
