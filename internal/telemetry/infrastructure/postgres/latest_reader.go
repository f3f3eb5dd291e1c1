package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "plantwatch/internal/telemetry/domain"
)

const defaultLatestTable = "influx_latest"

// LatestReader reads the latest value of every tag.
type LatestReader struct {
	db     *sql.DB
	table  string
	maxAge time.Duration
	now    func() time.Time
}

// ReaderOption configures the latest reader.
type ReaderOption func(*LatestReader)

// WithLatestTable overrides the default table name.
func WithLatestTable(table string) ReaderOption {
	return func(r *LatestReader) {
		if table != "" {
			r.table = table
		}
	}
}

// WithMaxAge drops values older than maxAge from snapshots.
func WithMaxAge(maxAge time.Duration) ReaderOption {
	return func(r *LatestReader) {
		if maxAge > 0 {
			r.maxAge = maxAge
		}
	}
}

// NewLatestReader constructs a LatestReader.
func NewLatestReader(db *sql.DB, opts ...ReaderOption) *LatestReader {
	r := &LatestReader{db: db, table: defaultLatestTable, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns the latest value per tag.
func (r *LatestReader) Snapshot(ctx context.Context) (telemetry.Snapshot, error) {
	readings, err := r.Readings(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := make(telemetry.Snapshot, len(readings))
	for _, reading := range readings {
		snapshot[reading.Tag] = reading.Value
	}
	return snapshot, nil
}

// Readings returns the latest reading per tag with timestamps.
func (r *LatestReader) Readings(ctx context.Context) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry latest: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT tag_name, value, ts
FROM %s
ORDER BY tag_name ASC`, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cutoff time.Time
	if r.maxAge > 0 {
		cutoff = r.now().Add(-r.maxAge)
	}
	var out []telemetry.Reading
	for rows.Next() {
		var tag string
		var value sql.NullFloat64
		var ts sql.NullTime
		if err := rows.Scan(&tag, &value, &ts); err != nil {
			return nil, err
		}
		if !value.Valid {
			continue
		}
		reading := telemetry.Reading{Tag: tag, Value: value.Float64}
		if ts.Valid {
			reading.At = ts.Time.UTC()
		}
		if !cutoff.IsZero() && (reading.At.IsZero() || reading.At.Before(cutoff)) {
			continue
		}
		out = append(out, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
