package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	monitoring "plantwatch/internal/monitoring/domain"
)

const defaultAggregateTable = "influx_agg_1m"

// HistoryQuery reads one-minute aggregates for trend prediction.
type HistoryQuery struct {
	db    *sql.DB
	table string
}

// QueryOption configures the history query.
type QueryOption func(*HistoryQuery)

// WithAggregateTable overrides the default aggregate table name.
func WithAggregateTable(table string) QueryOption {
	return func(q *HistoryQuery) {
		if q != nil && table != "" {
			q.table = table
		}
	}
}

// NewHistoryQuery constructs a history query.
func NewHistoryQuery(db *sql.DB, opts ...QueryOption) *HistoryQuery {
	q := &HistoryQuery{db: db, table: defaultAggregateTable}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Window returns buckets for tag at or after since, oldest first.
func (q *HistoryQuery) Window(ctx context.Context, tag string, since time.Time) ([]monitoring.Sample, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("history query: nil db")
	}
	if tag == "" {
		return nil, errors.New("history query: empty tag")
	}

	query := fmt.Sprintf(`
SELECT bucket, avg
FROM %s
WHERE tag_name = $1
	AND bucket >= $2
ORDER BY bucket ASC`, q.table)

	rows, err := q.db.QueryContext(ctx, query, tag, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []monitoring.Sample
	for rows.Next() {
		var bucket time.Time
		var value sql.NullFloat64
		if err := rows.Scan(&bucket, &value); err != nil {
			return nil, err
		}
		if !value.Valid {
			continue
		}
		samples = append(samples, monitoring.Sample{At: bucket.UTC(), Value: value.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}
