package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/store"
	"github.com/kjstillabower/weather-lookup-service/internal/validation"
)

// Part selects which provider resources a retrieval fetches.
type Part uint8

const (
	PartCurrent Part = 1 << iota
	PartForecast

	PartAll = PartCurrent | PartForecast
)

// Query describes one retrieval. A nil Range means no date filtering.
type Query struct {
	Location client.Location
	Range    *validation.DateRange
	Parts    Part
	Days     int
}

// WeatherService orchestrates provider retrieval, forecast filtering and record saving.
type WeatherService struct {
	client            client.WeatherClient
	store             store.RecordStore
	forecastDays      int
	rangeForecastDays int

	today func() time.Time
}

// NewWeatherService creates a WeatherService. forecastDays is the lookup horizon;
// rangeForecastDays is the horizon fetched when saving a date range.
func NewWeatherService(c client.WeatherClient, st store.RecordStore, forecastDays, rangeForecastDays int) *WeatherService {
	return &WeatherService{
		client:            c,
		store:             st,
		forecastDays:      forecastDays,
		rangeForecastDays: rangeForecastDays,
		today:             time.Now,
	}
}

// Retrieve fetches the requested parts concurrently. If any part fails the whole
// retrieval fails and the sibling call is cancelled. With a range, the forecast
// is filtered to it.
func (s *WeatherService) Retrieve(ctx context.Context, q Query) (models.WeatherResult, error) {
	var (
		current  models.WeatherSnapshot
		forecast []models.ForecastDay
	)

	g, gctx := errgroup.WithContext(ctx)
	if q.Parts&PartCurrent != 0 {
		g.Go(func() error {
			snap, err := s.client.GetCurrent(gctx, q.Location)
			if err != nil {
				return err
			}
			current = snap
			return nil
		})
	}
	if q.Parts&PartForecast != 0 {
		g.Go(func() error {
			days, err := s.client.GetForecast(gctx, q.Location, q.Days)
			if err != nil {
				return err
			}
			forecast = days
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.WeatherResult{}, fmt.Errorf("fetch weather for %s: %w", q.Location, err)
	}

	result := models.WeatherResult{Forecast: []models.ForecastDay{}}
	if q.Parts&PartCurrent != 0 {
		result.Current = &current
	}
	if forecast != nil {
		if q.Range != nil {
			forecast = FilterForecast(forecast, *q.Range)
		}
		result.Forecast = forecast
	}
	return result, nil
}

// Lookup returns current conditions and the default forecast horizon for loc,
// filtered to rng when one is given.
func (s *WeatherService) Lookup(ctx context.Context, loc client.Location, rng *validation.DateRange) (models.WeatherResult, error) {
	start := time.Now()
	result, err := s.Retrieve(ctx, Query{Location: loc, Range: rng, Parts: PartAll, Days: s.forecastDays})
	if err != nil {
		return models.WeatherResult{}, err
	}
	observability.RecordWeatherQuery(rng != nil)
	observability.LoggerFromContext(ctx).Debug("weather served",
		zap.String("location", loc.String()),
		zap.Bool("ranged", rng != nil),
		zap.Int("forecastDays", len(result.Forecast)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// Save captures temperatures for location and persists a record. Without a range
// the current temperature is stored as a single point dated today (UTC); with a
// range the filtered forecast is stored.
func (s *WeatherService) Save(ctx context.Context, location string, rng *validation.DateRange) (models.WeatherRequestRecord, error) {
	loc := client.Location{Name: location}
	rec := store.NewRecord{Location: location}

	if rng == nil {
		result, err := s.Retrieve(ctx, Query{Location: loc, Parts: PartCurrent})
		if err != nil {
			return models.WeatherRequestRecord{}, err
		}
		rec.Temperatures = []models.TemperaturePoint{{
			Date: models.NewDate(s.today()).String(),
			Temp: result.Current.Temp,
		}}
	} else {
		result, err := s.Retrieve(ctx, Query{Location: loc, Range: rng, Parts: PartForecast, Days: s.rangeForecastDays})
		if err != nil {
			return models.WeatherRequestRecord{}, err
		}
		rec.DateRangeStart = models.NewDate(rng.Start)
		rec.DateRangeEnd = models.NewDate(rng.End)
		rec.Temperatures = TemperaturesFromForecast(result.Forecast)
	}

	saved, err := s.store.Create(ctx, rec)
	observability.RecordStoreOp("create", err)
	if err != nil {
		return models.WeatherRequestRecord{}, fmt.Errorf("save record for %s: %w", location, err)
	}
	observability.LoggerFromContext(ctx).Info("weather record saved",
		zap.Int64("id", saved.ID),
		zap.String("location", location),
		zap.Int("temperatures", len(saved.Temperatures)))
	return saved, nil
}

// FilterForecast keeps the days that fall inside rng, preserving order.
// Days with unparseable dates are dropped.
func FilterForecast(days []models.ForecastDay, rng validation.DateRange) []models.ForecastDay {
	out := make([]models.ForecastDay, 0, len(days))
	for _, d := range days {
		date, err := models.ParseDate(d.Date)
		if err != nil {
			continue
		}
		if rng.Contains(date.Time) {
			out = append(out, d)
		}
	}
	return out
}

// TemperaturesFromForecast maps forecast days to (date, average temperature) points.
func TemperaturesFromForecast(days []models.ForecastDay) []models.TemperaturePoint {
	out := make([]models.TemperaturePoint, 0, len(days))
	for _, d := range days {
		out = append(out, models.TemperaturePoint{Date: d.Date, Temp: d.Temp})
	}
	return out
}

// ListRecords returns every saved record.
func (s *WeatherService) ListRecords(ctx context.Context) ([]models.WeatherRequestRecord, error) {
	records, err := s.store.List(ctx)
	observability.RecordStoreOp("list", err)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// UpdateTemperatures replaces the temperatures of record id.
func (s *WeatherService) UpdateTemperatures(ctx context.Context, id int64, temps []models.TemperaturePoint) (models.WeatherRequestRecord, error) {
	rec, err := s.store.UpdateTemperatures(ctx, id, temps)
	observability.RecordStoreOp("update", err)
	if err != nil {
		return models.WeatherRequestRecord{}, fmt.Errorf("update record %d: %w", id, err)
	}
	return rec, nil
}

// DeleteRecord removes record id.
func (s *WeatherService) DeleteRecord(ctx context.Context, id int64) error {
	err := s.store.Delete(ctx, id)
	observability.RecordStoreOp("delete", err)
	if err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}
	return nil
}
