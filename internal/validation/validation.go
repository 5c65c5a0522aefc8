package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

var (
	ErrCoordinatesIncomplete = errors.New("both lat and lon must be provided")
	ErrCoordinatesInvalid    = errors.New("lat and lon must be numbers")
	ErrLatitudeOutOfRange    = errors.New("lat must be between -90 and 90")
	ErrLongitudeOutOfRange   = errors.New("lon must be between -180 and 180")
)

var (
	ErrDateRangeIncomplete = errors.New("both start and end dates must be provided")
	ErrInvalidDate         = errors.New("invalid date")
	ErrDateRangeOrder      = errors.New("start date is after end date")
	ErrDateRangeTooLong    = errors.New("date range exceeds 5 days")
)

// MaxRangeDays is the longest inclusive date range a query may cover.
const MaxRangeDays = 5

// MinYear is the earliest year a date bound may fall in. It also keeps every
// accepted day clear of the zero time, which models.Date reads as unset.
const MinYear = 1900

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma,
// hyphen, period and apostrophe. Returns the trimmed string.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ParseCoordinates parses raw lat/lon strings. Both empty means no coordinates (nil, nil).
func ParseCoordinates(lat, lon string) (*models.Coordinates, error) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, ErrCoordinatesIncomplete
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, ErrCoordinatesInvalid
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil || math.IsNaN(la) || math.IsNaN(lo) {
		return nil, ErrCoordinatesInvalid
	}
	if la < -90 || la > 90 {
		return nil, ErrLatitudeOutOfRange
	}
	if lo < -180 || lo > 180 {
		return nil, ErrLongitudeOutOfRange
	}
	return &models.Coordinates{Lat: la, Lon: lo}, nil
}

// DateRange is an inclusive range of calendar days. Start and End are UTC midnights.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the inclusive number of calendar days covered.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether t falls on a day inside the range. The start bound is
// 00:00:00.000 of the start day and the end bound 23:59:59.999 of the end day.
func (r DateRange) Contains(t time.Time) bool {
	lo := r.Start
	hi := r.End.Add(24*time.Hour - time.Millisecond)
	day := models.NewDate(t).Time
	return !day.Before(lo) && !day.After(hi)
}

// ParseDateRange validates a start/end pair. Both empty means no range (nil, nil).
// Dates are accepted as YYYY-MM-DD or RFC 3339 and truncated to their calendar day.
func ParseDateRange(start, end string) (*DateRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, ErrDateRangeIncomplete
	}
	s, err := parseDay(start)
	if err != nil {
		return nil, ErrInvalidDate
	}
	e, err := parseDay(end)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if s.After(e) {
		return nil, ErrDateRangeOrder
	}
	rng := &DateRange{Start: s, End: e}
	if rng.Days() > MaxRangeDays {
		return nil, ErrDateRangeTooLong
	}
	return rng, nil
}

// parseDay returns the calendar day of s as UTC midnight. An RFC 3339 timestamp
// keeps the day of its own offset, so 2024-06-03T20:00:00-05:00 is June 3.
func parseDay(s string) (time.Time, error) {
	var y int
	var m time.Month
	var d int
	if day, err := models.ParseDate(s); err == nil {
		y, m, d = day.Date()
	} else {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, err
		}
		y, m, d = t.Date()
	}
	if y < MinYear {
		return time.Time{}, fmt.Errorf("year %d before %d", y, MinYear)
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// IsValidationError reports whether err came from this package.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrLocationEmpty, ErrLocationTooShort, ErrLocationTooLong, ErrLocationInvalidChars,
		ErrCoordinatesIncomplete, ErrCoordinatesInvalid, ErrLatitudeOutOfRange, ErrLongitudeOutOfRange,
		ErrDateRangeIncomplete, ErrInvalidDate, ErrDateRangeOrder, ErrDateRangeTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
