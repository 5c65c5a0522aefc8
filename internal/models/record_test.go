package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewDate_TruncatesToUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	in := time.Date(2024, 6, 2, 5, 30, 0, 0, loc) // 2024-06-01 19:30 UTC
	d := NewDate(in)
	if got := d.String(); got != "2024-06-01" {
		t.Errorf("NewDate() = %s, want 2024-06-01", got)
	}
	if d.Location() != time.UTC || d.Hour() != 0 {
		t.Errorf("NewDate() = %v, want UTC midnight", d.Time)
	}
}

func TestDate_JSON(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`"2024-06-01"`, "2024-06-01", false},
		{`null`, "", false},
		{`""`, "", false},
		{`"06/01/2024"`, "", true},
		{`20240601`, "", true},
	}
	for _, tt := range tests {
		var d Date
		err := json.Unmarshal([]byte(tt.in), &d)
		if (err != nil) != tt.wantErr {
			t.Errorf("Unmarshal(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if d.String() != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, d.String(), tt.want)
		}
	}

	out, err := json.Marshal(struct {
		Set   Date `json:"set"`
		Unset Date `json:"unset"`
	}{Set: NewDate(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"set":"2024-06-01","unset":null}` {
		t.Errorf("Marshal() = %s", out)
	}
}

func TestDate_Scan(t *testing.T) {
	tests := []struct {
		name    string
		src     interface{}
		want    string
		wantErr bool
	}{
		{"nil", nil, "", false},
		{"string", "2024-06-03", "2024-06-03", false},
		{"bytes", []byte("2024-06-04"), "2024-06-04", false},
		{"timestamp string", "2024-06-05T00:00:00Z", "2024-06-05", false},
		{"empty", "", "", false},
		{"time", time.Date(2024, 6, 6, 23, 0, 0, 0, time.UTC), "2024-06-06", false},
		{"garbage", "yesterday", "", true},
		{"int", int64(5), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Date
			err := d.Scan(tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Scan(%v) error = %v, wantErr %v", tt.src, err, tt.wantErr)
			}
			if !tt.wantErr && d.String() != tt.want {
				t.Errorf("Scan(%v) = %q, want %q", tt.src, d.String(), tt.want)
			}
		})
	}
}

func TestDate_Value(t *testing.T) {
	v, err := Date{}.Value()
	if err != nil || v != nil {
		t.Errorf("zero Value() = (%v, %v), want (nil, nil)", v, err)
	}
	d, _ := ParseDate("2024-06-01")
	v, err = d.Value()
	if err != nil || v != "2024-06-01" {
		t.Errorf("Value() = (%v, %v), want 2024-06-01", v, err)
	}
}

func TestWeatherRequestRecord_HasDateRange(t *testing.T) {
	start, _ := ParseDate("2024-06-01")
	end, _ := ParseDate("2024-06-03")
	if (WeatherRequestRecord{}).HasDateRange() {
		t.Error("empty record should have no date range")
	}
	if (WeatherRequestRecord{DateRangeStart: start}).HasDateRange() {
		t.Error("half range should not count as a date range")
	}
	if !(WeatherRequestRecord{DateRangeStart: start, DateRangeEnd: end}).HasDateRange() {
		t.Error("full range should be reported")
	}
}
