package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	monitoring "plantwatch/internal/monitoring/domain"
)

const defaultAggregateTable = "sensor_agg_1m"

// Options configures the ClickHouse connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// HistoryQuery reads one-minute aggregates from ClickHouse.
type HistoryQuery struct {
	conn  driver.Conn
	table string
}

// Open connects to ClickHouse and verifies the connection.
func Open(ctx context.Context, opts Options) (*HistoryQuery, error) {
	if opts.Addr == "" {
		return nil, errors.New("clickhouse history: empty addr")
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse history: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse history: ping: %w", err)
	}
	return NewHistoryQuery(conn, opts.Table), nil
}

// NewHistoryQuery wraps an existing connection.
func NewHistoryQuery(conn driver.Conn, table string) *HistoryQuery {
	if table == "" {
		table = defaultAggregateTable
	}
	return &HistoryQuery{conn: conn, table: table}
}

// Window returns buckets for tag at or after since, oldest first.
func (q *HistoryQuery) Window(ctx context.Context, tag string, since time.Time) ([]monitoring.Sample, error) {
	if q == nil || q.conn == nil {
		return nil, errors.New("clickhouse history: nil conn")
	}
	if tag == "" {
		return nil, errors.New("clickhouse history: empty tag")
	}
	query := fmt.Sprintf(`
SELECT bucket, avg
FROM %s
WHERE tag_name = ? AND bucket >= ?
ORDER BY bucket ASC`, q.table)

	rows, err := q.conn.Query(ctx, query, tag, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("clickhouse history: query: %w", err)
	}
	defer rows.Close()

	var samples []monitoring.Sample
	for rows.Next() {
		var bucket time.Time
		var value float64
		if err := rows.Scan(&bucket, &value); err != nil {
			return nil, fmt.Errorf("clickhouse history: scan: %w", err)
		}
		samples = append(samples, monitoring.Sample{At: bucket.UTC(), Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// Close releases the connection.
func (q *HistoryQuery) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
