// Package store persists weather request records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrIncompleteRange is returned when only one of the range bounds is set.
	ErrIncompleteRange = errors.New("dateRangeStart and dateRangeEnd must both be set or both be empty")

	// ErrStorage wraps every other database failure.
	ErrStorage = errors.New("storage error")
)

// NewRecord is the input to Create. ID and CreatedAt are assigned by the store.
type NewRecord struct {
	Location       string
	DateRangeStart models.Date
	DateRangeEnd   models.Date
	Temperatures   []models.TemperaturePoint
}

// RecordStore defines record persistence operations.
type RecordStore interface {
	Create(ctx context.Context, rec NewRecord) (models.WeatherRequestRecord, error)
	List(ctx context.Context) ([]models.WeatherRequestRecord, error)
	UpdateTemperatures(ctx context.Context, id int64, temps []models.TemperaturePoint) (models.WeatherRequestRecord, error)
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS weather_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	location TEXT NOT NULL,
	date_range_start TEXT,
	date_range_end TEXT,
	temperatures TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	CHECK ((date_range_start IS NULL) = (date_range_end IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_weather_requests_created_at ON weather_requests(created_at);`

const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// SQLiteStore implements RecordStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	Path string

	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = filepath.Join("data", "weather.db")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+dsnParams(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		Path: path,
		now:  time.Now,
	}, nil
}

func dsnParams(path string) string {
	if strings.Contains(path, "?") {
		return ""
	}
	return "?_busy_timeout=5000&_foreign_keys=on"
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStorage, err)
	}
	return nil
}

// Create inserts rec and returns it with its assigned id and creation time.
func (s *SQLiteStore) Create(ctx context.Context, rec NewRecord) (models.WeatherRequestRecord, error) {
	if rec.DateRangeStart.IsSet() != rec.DateRangeEnd.IsSet() {
		return models.WeatherRequestRecord{}, ErrIncompleteRange
	}
	temps, err := encodeTemperatures(rec.Temperatures)
	if err != nil {
		return models.WeatherRequestRecord{}, err
	}
	createdAt := s.now().UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_requests(location, date_range_start, date_range_end, temperatures, created_at)
		VALUES(?, ?, ?, ?, ?)`,
		rec.Location, rec.DateRangeStart, rec.DateRangeEnd, temps, createdAt.Format(createdAtLayout))
	if err != nil {
		return models.WeatherRequestRecord{}, fmt.Errorf("%w: insert record: %v", ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.WeatherRequestRecord{}, fmt.Errorf("%w: last insert id: %v", ErrStorage, err)
	}

	return models.WeatherRequestRecord{
		ID:             id,
		Location:       rec.Location,
		DateRangeStart: rec.DateRangeStart,
		DateRangeEnd:   rec.DateRangeEnd,
		Temperatures:   nonNil(rec.Temperatures),
		CreatedAt:      createdAt,
	}, nil
}

// List returns every record in insertion order.
func (s *SQLiteStore) List(ctx context.Context) ([]models.WeatherRequestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location, date_range_start, date_range_end, temperatures, created_at
		FROM weather_requests
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: query records: %v", ErrStorage, err)
	}
	defer rows.Close()

	records := []models.WeatherRequestRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", ErrStorage, err)
	}
	return records, nil
}

// UpdateTemperatures replaces the temperatures of record id and returns the updated record.
func (s *SQLiteStore) UpdateTemperatures(ctx context.Context, id int64, temps []models.TemperaturePoint) (models.WeatherRequestRecord, error) {
	encoded, err := encodeTemperatures(temps)
	if err != nil {
		return models.WeatherRequestRecord{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.WeatherRequestRecord{}, fmt.Errorf("%w: begin transaction: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE weather_requests SET temperatures = ? WHERE id = ?`, encoded, id)
	if err != nil {
		return models.WeatherRequestRecord{}, fmt.Errorf("%w: update record %d: %v", ErrStorage, id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return models.WeatherRequestRecord{}, fmt.Errorf("%w: rows affected: %v", ErrStorage, err)
	} else if n == 0 {
		return models.WeatherRequestRecord{}, ErrNotFound
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, location, date_range_start, date_range_end, temperatures, created_at
		FROM weather_requests
		WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return models.WeatherRequestRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.WeatherRequestRecord{}, fmt.Errorf("%w: commit transaction: %v", ErrStorage, err)
	}
	return rec, nil
}

// Delete removes record id.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM weather_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete record %d: %v", ErrStorage, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrStorage, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (models.WeatherRequestRecord, error) {
	var (
		rec       models.WeatherRequestRecord
		temps     string
		createdAt string
	)
	if err := row.Scan(&rec.ID, &rec.Location, &rec.DateRangeStart, &rec.DateRangeEnd, &temps, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, ErrNotFound
		}
		return rec, fmt.Errorf("%w: scan record: %v", ErrStorage, err)
	}
	if err := json.Unmarshal([]byte(temps), &rec.Temperatures); err != nil {
		return rec, fmt.Errorf("%w: decode temperatures of record %d: %v", ErrStorage, rec.ID, err)
	}
	rec.Temperatures = nonNil(rec.Temperatures)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return rec, fmt.Errorf("%w: parse created_at of record %d: %v", ErrStorage, rec.ID, err)
	}
	rec.CreatedAt = t.UTC()
	return rec, nil
}

func encodeTemperatures(temps []models.TemperaturePoint) (string, error) {
	b, err := json.Marshal(nonNil(temps))
	if err != nil {
		return "", fmt.Errorf("%w: encode temperatures: %v", ErrStorage, err)
	}
	return string(b), nil
}

func nonNil(temps []models.TemperaturePoint) []models.TemperaturePoint {
	if temps == nil {
		return []models.TemperaturePoint{}
	}
	return temps
}
