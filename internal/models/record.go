package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used in requests, storage and exports.
const DateLayout = "2006-01-02"

// Date is a calendar day in UTC. The zero value encodes as JSON null and SQL NULL.
type Date struct {
	time.Time
}

// NewDate truncates t to its UTC calendar day.
func NewDate(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// IsSet reports whether d holds a day.
func (d Date) IsSet() bool {
	return !d.Time.IsZero()
}

func (d Date) String() string {
	if !d.IsSet() {
		return ""
	}
	return d.Time.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if !d.IsSet() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	if !d.IsSet() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan implements sql.Scanner.
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	case time.Time:
		*d = NewDate(v)
		return nil
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
}

func (d *Date) scanString(s string) error {
	if s == "" {
		*d = Date{}
		return nil
	}
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("scan date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// TemperaturePoint is one captured (date, temperature) pair.
type TemperaturePoint struct {
	Date string  `json:"date" validate:"required,datetime=2006-01-02"`
	Temp float64 `json:"temp"`
}

// WeatherRequestRecord is a persisted user query plus its captured temperatures.
// DateRangeStart and DateRangeEnd are either both set or both zero.
type WeatherRequestRecord struct {
	ID             int64              `json:"id"`
	Location       string             `json:"location"`
	DateRangeStart Date               `json:"dateRangeStart"`
	DateRangeEnd   Date               `json:"dateRangeEnd"`
	Temperatures   []TemperaturePoint `json:"temperatures"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// HasDateRange reports whether the record was saved for a date range.
func (r WeatherRequestRecord) HasDateRange() bool {
	return r.DateRangeStart.IsSet() && r.DateRangeEnd.IsSet()
}
