package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of the backing database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var placeholderPattern = regexp.MustCompile(`\$\d+`)

// ParseDialect maps a driver or store name to a Dialect.
func ParseDialect(value string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("sqlstore: unknown dialect %q", value)
	}
}

// Rebind rewrites $N placeholders for the dialect. SQLite queries must use
// each placeholder once and in order.
func (d Dialect) Rebind(query string) string {
	if d != DialectSQLite {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?")
}

// TimeArg converts t to the column representation of the dialect.
func (d Dialect) TimeArg(t time.Time) any {
	t = t.UTC()
	if d == DialectSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func (d Dialect) nullableTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.TimeArg(*t)
}

func parseTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return parseTimeText(v)
	case []byte:
		return parseTimeText(string(v))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("sqlstore: unsupported time value %T", value)
	}
}

func parseTimeText(text string) (time.Time, error) {
	if text == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("sqlstore: unparseable time %q", text)
}

// OpenSQLite opens a SQLite database file in WAL mode.
func OpenSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlstore: empty sqlite path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenPostgres opens a Postgres database through pgx.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("sqlstore: empty postgres dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
