// Package export renders stored weather records as downloadable JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

// Format is an export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ErrUnsupportedFormat is returned by ParseFormat for anything other than json or csv.
var ErrUnsupportedFormat = errors.New("unsupported format")

const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

var csvHeader = []string{"id", "location", "dateRangeStart", "dateRangeEnd", "createdAt", "Temperatures"}

// ParseFormat parses s case-insensitively. An empty string selects JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ContentType returns the MIME type of f.
func ContentType(f Format) string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Filename returns the attachment name for f.
func Filename(f Format) string {
	return "weather_data." + string(f)
}

type jsonRecord struct {
	ID             int64                     `json:"id"`
	Location       string                    `json:"location"`
	DateRangeStart models.Date               `json:"dateRangeStart"`
	DateRangeEnd   models.Date               `json:"dateRangeEnd"`
	Temperatures   []models.TemperaturePoint `json:"temperatures"`
	CreatedAt      string                    `json:"createdAt"`
}

// Write renders records to w in format f.
func Write(w io.Writer, f Format, records []models.WeatherRequestRecord) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, records)
	case FormatCSV:
		return writeCSV(w, records)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
}

func writeJSON(w io.Writer, records []models.WeatherRequestRecord) error {
	out := make([]jsonRecord, 0, len(records))
	for _, r := range records {
		temps := r.Temperatures
		if temps == nil {
			temps = []models.TemperaturePoint{}
		}
		out = append(out, jsonRecord{
			ID:             r.ID,
			Location:       r.Location,
			DateRangeStart: r.DateRangeStart,
			DateRangeEnd:   r.DateRangeEnd,
			Temperatures:   temps,
			CreatedAt:      formatCreatedAt(r),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeCSV(w io.Writer, records []models.WeatherRequestRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.ID, 10),
			r.Location,
			r.DateRangeStart.String(),
			r.DateRangeEnd.String(),
			formatCreatedAt(r),
			FormatTemperatures(r.Temperatures),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatTemperatures joins points as date:temp pairs separated by ';'.
func FormatTemperatures(temps []models.TemperaturePoint) string {
	parts := make([]string, 0, len(temps))
	for _, t := range temps {
		parts = append(parts, t.Date+":"+strconv.FormatFloat(t.Temp, 'f', -1, 64))
	}
	return strings.Join(parts, ";")
}

func formatCreatedAt(r models.WeatherRequestRecord) string {
	if r.CreatedAt.IsZero() {
		return ""
	}
	return r.CreatedAt.UTC().Format(createdAtLayout)
}
