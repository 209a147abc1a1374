package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/realtimeapp/internal/models"
)

// Compile-time interface check
var _ ReadingStore = (*MemoryStore)(nil)

// MemoryStore is an in-process document store for sensor readings.
// It backs the service when the database is disabled and serves as the mock store in tests.
type MemoryStore struct {
	data   map[string]memoryRecord
	mutex  sync.RWMutex
	logger zerolog.Logger
	loc    *time.Location
	now    func() time.Time
}

type memoryRecord struct {
	reading    models.SensorReading
	recordedAt time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger zerolog.Logger, opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		data:   make(map[string]memoryRecord),
		logger: logger,
		loc:    o.loc,
		now:    o.now,
	}
}

// Save validates a reading and upserts it under its reading_id
func (ms *MemoryStore) Save(ctx context.Context, reading *models.SensorReading) (*models.SensorReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recordedAt, err := prepare(reading, ms.loc)
	if err != nil {
		return nil, err
	}

	ms.mutex.Lock()
	ms.data[reading.ReadingID] = memoryRecord{
		reading:    *reading,
		recordedAt: recordedAt,
	}
	ms.mutex.Unlock()

	ms.logger.Debug().Str("reading_id", reading.ReadingID).Str("room", reading.Room).Msg("Reading saved")

	return ms.Get(ctx, reading.ReadingID)
}

// Get returns the reading stored under readingID
func (ms *MemoryStore) Get(ctx context.Context, readingID string) (*models.SensorReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	rec, ok := ms.data[readingID]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy, not a pointer to internal data
	return rec.reading.Copy(), nil
}

// All returns every stored reading keyed by reading_id
func (ms *MemoryStore) All(ctx context.Context) (models.Readings, error) {
	return ms.filter(ctx, nil)
}

// Since returns readings dated from now minus days through now
func (ms *MemoryStore) Since(ctx context.Context, days int) (models.Readings, error) {
	w, err := newWindow(ms.now(), days)
	if err != nil {
		return nil, err
	}
	return ms.filter(ctx, &w)
}

// filter collects the readings inside w, or every reading when w is nil
func (ms *MemoryStore) filter(ctx context.Context, w *window) (models.Readings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	readings := make(models.Readings)
	for id, rec := range ms.data {
		if w != nil && !w.contains(rec.recordedAt) {
			continue
		}
		readings[id] = rec.reading.Attributes()
	}
	return readings, nil
}

// Stats returns statistics about the store
func (ms *MemoryStore) Stats(ctx context.Context) (*StorageStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	stats := &StorageStats{TotalReadings: int64(len(ms.data))}
	rooms := make(map[string]struct{})
	for _, rec := range ms.data {
		rooms[rec.reading.Room] = struct{}{}
		if stats.OldestReading.IsZero() || rec.recordedAt.Before(stats.OldestReading) {
			stats.OldestReading = rec.recordedAt
		}
		if rec.recordedAt.After(stats.NewestReading) {
			stats.NewestReading = rec.recordedAt
		}
	}
	stats.UniqueRooms = len(rooms)

	return stats, nil
}

// Clear removes all data from the store
func (ms *MemoryStore) Clear() {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.data = make(map[string]memoryRecord)
}

// Close releases the stored readings
func (ms *MemoryStore) Close() error {
	ms.Clear()
	return nil
}
