package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

func sampleRecords(t *testing.T) []models.WeatherRequestRecord {
	t.Helper()
	start, err := models.ParseDate("2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	end, err := models.ParseDate("2024-01-02")
	if err != nil {
		t.Fatal(err)
	}
	return []models.WeatherRequestRecord{
		{
			ID:             1,
			Location:       "Paris",
			DateRangeStart: start,
			DateRangeEnd:   end,
			Temperatures:   []models.TemperaturePoint{{Date: "2024-01-01", Temp: 5}, {Date: "2024-01-02", Temp: 7}},
			CreatedAt:      time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		},
		{
			ID:        2,
			Location:  "Washington, DC",
			CreatedAt: time.Date(2024, 1, 3, 9, 15, 30, 250000000, time.UTC),
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"csv", FormatCSV, false},
		{" Csv ", FormatCSV, false},
		{"xml", "", true},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("ParseFormat(%q) error = %v, want ErrUnsupportedFormat", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFormat(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilenameAndContentType(t *testing.T) {
	if got := Filename(FormatJSON); got != "weather_data.json" {
		t.Errorf("Filename(json) = %q", got)
	}
	if got := Filename(FormatCSV); got != "weather_data.csv" {
		t.Errorf("Filename(csv) = %q", got)
	}
	if got := ContentType(FormatJSON); got != "application/json" {
		t.Errorf("ContentType(json) = %q", got)
	}
	if got := ContentType(FormatCSV); !strings.HasPrefix(got, "text/csv") {
		t.Errorf("ContentType(csv) = %q", got)
	}
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, sampleRecords(t)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if strings.Join(rows[0], ",") != "id,location,dateRangeStart,dateRangeEnd,createdAt,Temperatures" {
		t.Errorf("header = %v", rows[0])
	}
	want := []string{"1", "Paris", "2024-01-01", "2024-01-02", "2024-01-01T08:00:00.000Z", "2024-01-01:5;2024-01-02:7"}
	for i := range want {
		if rows[1][i] != want[i] {
			t.Errorf("row 1 col %d = %q, want %q", i, rows[1][i], want[i])
		}
	}
	if rows[2][1] != "Washington, DC" {
		t.Errorf("quoted location = %q", rows[2][1])
	}
	if rows[2][2] != "" || rows[2][3] != "" || rows[2][5] != "" {
		t.Errorf("row 2 = %v, want empty dates and temperatures", rows[2])
	}
	if rows[2][4] != "2024-01-03T09:15:30.250Z" {
		t.Errorf("createdAt = %q", rows[2][4])
	}
}

func TestWrite_CSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, nil); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := buf.String(); got != "id,location,dateRangeStart,dateRangeEnd,createdAt,Temperatures\n" {
		t.Errorf("empty CSV = %q", got)
	}
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, sampleRecords(t)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var got []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0]["id"] != float64(1) {
		t.Errorf("id = %#v, want plain number 1", got[0]["id"])
	}
	if got[0]["dateRangeStart"] != "2024-01-01" || got[0]["createdAt"] != "2024-01-01T08:00:00.000Z" {
		t.Errorf("record 0 = %v", got[0])
	}
	if got[1]["dateRangeStart"] != nil || got[1]["dateRangeEnd"] != nil {
		t.Errorf("record 1 dates = %v/%v, want null", got[1]["dateRangeStart"], got[1]["dateRangeEnd"])
	}
	temps, ok := got[1]["temperatures"].([]interface{})
	if !ok || len(temps) != 0 {
		t.Errorf("record 1 temperatures = %#v, want []", got[1]["temperatures"])
	}
}

func TestWrite_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, nil); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("empty JSON = %q, want []", got)
	}
}

func TestWrite_Idempotent(t *testing.T) {
	recs := sampleRecords(t)
	var a, b bytes.Buffer
	_ = Write(&a, FormatCSV, recs)
	_ = Write(&b, FormatCSV, recs)
	if a.String() != b.String() {
		t.Error("Write() output differs between identical calls")
	}
}

func TestWrite_Unsupported(t *testing.T) {
	if err := Write(&bytes.Buffer{}, Format("xml"), nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Write() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestFormatTemperatures(t *testing.T) {
	got := FormatTemperatures([]models.TemperaturePoint{{Date: "2024-01-01", Temp: -3.5}, {Date: "2024-01-02", Temp: 0}})
	if got != "2024-01-01:-3.5;2024-01-02:0" {
		t.Errorf("FormatTemperatures() = %q", got)
	}
}
