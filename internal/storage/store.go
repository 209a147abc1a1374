package storage

import (
	"context"
	"errors"
	"time"

	"github.com/afroash/realtimeapp/internal/models"
)

var (
	// ErrNotFound is returned when no reading exists under the requested id
	ErrNotFound = errors.New("reading not found")

	// ErrInvalidWindow is returned by Since for a window smaller than one day
	ErrInvalidWindow = errors.New("days must be at least 1")
)

// ReadingStore persists sensor readings keyed by reading id.
// SQLiteStore and MemoryStore implement it.
type ReadingStore interface {
	// Save validates and upserts a reading, returning the stored record.
	// Validation failures are returned as *models.ValidationError and nothing is written.
	Save(ctx context.Context, reading *models.SensorReading) (*models.SensorReading, error)

	// Get returns a single reading or ErrNotFound
	Get(ctx context.Context, readingID string) (*models.SensorReading, error)

	// All returns every stored reading keyed by id
	All(ctx context.Context) (models.Readings, error)

	// Since returns the readings dated from now minus the given number of days through now
	Since(ctx context.Context, days int) (models.Readings, error)

	// Stats returns statistics about the stored readings
	Stats(ctx context.Context) (*StorageStats, error)

	Close() error
}

// StorageStats contains information about the stored readings
type StorageStats struct {
	TotalReadings  int64     `json:"total_readings"`
	UniqueRooms    int       `json:"unique_rooms"`
	OldestReading  time.Time `json:"oldest_reading,omitempty"`
	NewestReading  time.Time `json:"newest_reading,omitempty"`
	DatabaseSizeMB float64   `json:"database_size_mb,omitempty"`
}

// Option configures a store
type Option func(*options)

type options struct {
	loc *time.Location
	now func() time.Time
}

// WithLocation sets the location used for reading dates without an offset (default: local time)
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithClock replaces time.Now for window queries
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		loc: time.Local,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// maxWindowDays covers every date ParseDate accepts, so larger windows are clamped
const maxWindowDays = 4_000_000

// window is an inclusive range of reading timestamps
type window struct {
	from time.Time
	to   time.Time
}

func (w window) contains(t time.Time) bool {
	return !t.Before(w.from) && !t.After(w.to)
}

// newWindow returns the range from now minus days through now
func newWindow(now time.Time, days int) (window, error) {
	if days < 1 {
		return window{}, ErrInvalidWindow
	}
	days = min(days, maxWindowDays)
	return window{from: now.AddDate(0, 0, -days), to: now}, nil
}

// prepare validates a reading and resolves its timestamp
func prepare(reading *models.SensorReading, loc *time.Location) (time.Time, error) {
	if reading == nil {
		return time.Time{}, &models.ValidationError{
			Entity: models.EntitySensorReading,
			Fields: map[string]string{"reading": "reading is nil"},
		}
	}
	if err := reading.Validate(); err != nil {
		return time.Time{}, err
	}
	return reading.Time(loc)
}
