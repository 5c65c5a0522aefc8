package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "weather.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 6, 1, 12, 30, 45, 123456789, time.FixedZone("CEST", 2*3600)) }
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustDate(t *testing.T, s string) models.Date {
	t.Helper()
	d, err := models.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q) error = %v", s, err)
	}
	return d
}

func TestSQLiteStore_CreateAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, NewRecord{
		Location:     "Paris",
		Temperatures: []models.TemperaturePoint{{Date: "2024-06-01", Temp: 18.5}},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if first.ID <= 0 {
		t.Errorf("Create() ID = %d, want positive", first.ID)
	}
	wantCreated := time.Date(2024, 6, 1, 10, 30, 45, 123000000, time.UTC)
	if !first.CreatedAt.Equal(wantCreated) || first.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want %v in UTC", first.CreatedAt, wantCreated)
	}

	second, err := s.Create(ctx, NewRecord{
		Location:       "Berlin",
		DateRangeStart: mustDate(t, "2024-06-02"),
		DateRangeEnd:   mustDate(t, "2024-06-04"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if second.Temperatures == nil {
		t.Error("Create() Temperatures is nil, want empty slice")
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("List() ids = %d, %d; want insertion order %d, %d", got[0].ID, got[1].ID, first.ID, second.ID)
	}
	if got[0].HasDateRange() {
		t.Error("first record should have no date range")
	}
	if got[0].Temperatures[0] != (models.TemperaturePoint{Date: "2024-06-01", Temp: 18.5}) {
		t.Errorf("temperatures = %+v", got[0].Temperatures)
	}
	if !got[0].CreatedAt.Equal(wantCreated) {
		t.Errorf("listed CreatedAt = %v, want %v", got[0].CreatedAt, wantCreated)
	}
	if got[1].DateRangeStart.String() != "2024-06-02" || got[1].DateRangeEnd.String() != "2024-06-04" {
		t.Errorf("range = %s..%s, want 2024-06-02..2024-06-04", got[1].DateRangeStart, got[1].DateRangeEnd)
	}
	if len(got[1].Temperatures) != 0 || got[1].Temperatures == nil {
		t.Errorf("second record temperatures = %#v, want empty non-nil", got[1].Temperatures)
	}
}

func TestSQLiteStore_ListEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("List() = %#v, want empty non-nil slice", got)
	}
}

func TestSQLiteStore_CreateRejectsHalfRange(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(context.Background(), NewRecord{Location: "Paris", DateRangeStart: mustDate(t, "2024-06-02")})
	if !errors.Is(err, ErrIncompleteRange) {
		t.Errorf("Create() error = %v, want ErrIncompleteRange", err)
	}
}

func TestSQLiteStore_UpdateTemperatures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec, err := s.Create(ctx, NewRecord{Location: "Oslo"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	temps := []models.TemperaturePoint{{Date: "2024-06-01", Temp: 5}, {Date: "2024-06-02", Temp: 7.25}}
	updated, err := s.UpdateTemperatures(ctx, rec.ID, temps)
	if err != nil {
		t.Fatalf("UpdateTemperatures() error = %v", err)
	}
	if updated.ID != rec.ID || updated.Location != "Oslo" {
		t.Errorf("UpdateTemperatures() = %+v, want same record", updated)
	}
	if len(updated.Temperatures) != 2 || updated.Temperatures[1].Temp != 7.25 {
		t.Errorf("UpdateTemperatures() temperatures = %+v", updated.Temperatures)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list[0].Temperatures) != 2 {
		t.Errorf("persisted temperatures = %+v", list[0].Temperatures)
	}
}

func TestSQLiteStore_UpdateUnknownID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateTemperatures(context.Background(), 42, []models.TemperaturePoint{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTemperatures() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec, err := s.Create(ctx, NewRecord{Location: "Rome"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() after delete = %+v, want empty", list)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weather.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if _, err := s.Create(context.Background(), NewRecord{Location: "Madrid"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer reopened.Close()
	list, err := reopened.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Location != "Madrid" {
		t.Errorf("List() after reopen = %+v", list)
	}
}

func TestSQLiteStore_PingAndClosed(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	_ = s.Close()
	_, err := s.List(context.Background())
	if !errors.Is(err, ErrStorage) {
		t.Errorf("List() on closed store error = %v, want ErrStorage", err)
	}
}
