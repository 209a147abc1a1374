package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/realtimeapp/internal/models"
)

// Compile-time interface check
var _ ReadingStore = (*SQLiteStore)(nil)

// SQLiteStore handles persistent storage of sensor readings.
// Every reading is one row keyed by reading_id. Numeric attributes and the
// date are stored as the literals they were submitted with; the parsed date
// is kept as unix seconds plus nanoseconds for window queries.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string, logger zerolog.Logger, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// Single writer; also keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	o := buildOptions(opts)
	store := &SQLiteStore{
		db:     db,
		logger: logger,
		loc:    o.loc,
		now:    o.now,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sensor_readings (
		reading_id TEXT PRIMARY KEY,
		room TEXT NOT NULL,
		temperature TEXT NOT NULL,
		humidity TEXT NOT NULL,
		date TEXT NOT NULL,
		recorded_unix INTEGER NOT NULL,
		recorded_nanos INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sensor_readings_recorded ON sensor_readings(recorded_unix, recorded_nanos);
	CREATE INDEX IF NOT EXISTS idx_sensor_readings_room ON sensor_readings(room);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// Save validates a reading and upserts it under its reading_id
func (s *SQLiteStore) Save(ctx context.Context, reading *models.SensorReading) (*models.SensorReading, error) {
	recordedAt, err := prepare(reading, s.loc)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO sensor_readings (reading_id, room, temperature, humidity, date, recorded_unix, recorded_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reading_id) DO UPDATE SET
			room = excluded.room,
			temperature = excluded.temperature,
			humidity = excluded.humidity,
			date = excluded.date,
			recorded_unix = excluded.recorded_unix,
			recorded_nanos = excluded.recorded_nanos,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = s.db.ExecContext(ctx, query,
		reading.ReadingID,
		reading.Room,
		string(reading.Temperature),
		string(reading.Humidity),
		reading.Date,
		recordedAt.Unix(),
		recordedAt.Nanosecond(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save reading %s: %w", reading.ReadingID, err)
	}

	s.logger.Debug().Str("reading_id", reading.ReadingID).Str("room", reading.Room).Msg("Reading saved")

	return s.Get(ctx, reading.ReadingID)
}

// Get returns the reading stored under readingID
func (s *SQLiteStore) Get(ctx context.Context, readingID string) (*models.SensorReading, error) {
	query := `
		SELECT reading_id, room, temperature, humidity, date
		FROM sensor_readings
		WHERE reading_id = ?
	`

	var r models.SensorReading
	var temperature, humidity string
	err := s.db.QueryRowContext(ctx, query, readingID).
		Scan(&r.ReadingID, &r.Room, &temperature, &humidity, &r.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reading %s: %w", readingID, err)
	}
	r.Temperature = models.Number(temperature)
	r.Humidity = models.Number(humidity)

	return &r, nil
}

// All returns every stored reading keyed by reading_id
func (s *SQLiteStore) All(ctx context.Context) (models.Readings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reading_id, room, temperature, humidity, date
		FROM sensor_readings
		ORDER BY recorded_unix, recorded_nanos
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return s.scanReadings(rows)
}

// Since returns readings dated from now minus days through now
func (s *SQLiteStore) Since(ctx context.Context, days int) (models.Readings, error) {
	w, err := newWindow(s.now(), days)
	if err != nil {
		return nil, err
	}

	from, to := w.from.Unix(), w.to.Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT reading_id, room, temperature, humidity, date
		FROM sensor_readings
		WHERE (recorded_unix > ? OR (recorded_unix = ? AND recorded_nanos >= ?))
		  AND (recorded_unix < ? OR (recorded_unix = ? AND recorded_nanos <= ?))
		ORDER BY recorded_unix, recorded_nanos
	`, from, from, w.from.Nanosecond(), to, to, w.to.Nanosecond())
	if err != nil {
		return nil, fmt.Errorf("failed to query readings since %s: %w", w.from.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return s.scanReadings(rows)
}

// Stats returns statistics about the database
func (s *SQLiteStore) Stats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT room)
		FROM sensor_readings
	`).Scan(&stats.TotalReadings, &stats.UniqueRooms)
	if err != nil {
		return nil, fmt.Errorf("failed to query storage stats: %w", err)
	}

	if stats.TotalReadings > 0 {
		if stats.OldestReading, err = s.recordedTime(ctx, "ASC"); err != nil {
			return nil, err
		}
		if stats.NewestReading, err = s.recordedTime(ctx, "DESC"); err != nil {
			return nil, err
		}
	}

	var pageCount, pageSize int64
	s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// recordedTime returns the first reading timestamp in the given sort order
func (s *SQLiteStore) recordedTime(ctx context.Context, order string) (time.Time, error) {
	var sec, nsec int64
	err := s.db.QueryRowContext(ctx, `
		SELECT recorded_unix, recorded_nanos
		FROM sensor_readings
		ORDER BY recorded_unix `+order+`, recorded_nanos `+order+`
		LIMIT 1
	`).Scan(&sec, &nsec)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query reading time: %w", err)
	}
	return time.Unix(sec, nsec).In(s.loc), nil
}

// scanReadings collects rows into a Readings map
func (s *SQLiteStore) scanReadings(rows *sql.Rows) (models.Readings, error) {
	readings := make(models.Readings)

	for rows.Next() {
		var id, temperature, humidity string
		var a models.Attributes

		if err := rows.Scan(&id, &a.Room, &temperature, &humidity, &a.Date); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		a.Temperature = models.Number(temperature)
		a.Humidity = models.Number(humidity)
		readings[id] = a
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return readings, nil
}
