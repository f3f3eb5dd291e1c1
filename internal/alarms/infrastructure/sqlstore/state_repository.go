package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alarms "plantwatch/internal/alarms/domain"
)

// StateRepository stores the runtime state of scenarios.
type StateRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewStateRepository constructs a repository.
func NewStateRepository(db *sql.DB, dialect Dialect) *StateRepository {
	return &StateRepository{db: db, dialect: dialect}
}

// SaveState inserts or updates the state of one scenario.
func (r *StateRepository) SaveState(ctx context.Context, state alarms.ScenarioState) error {
	if r == nil || r.db == nil {
		return errors.New("scenario state repo: nil db")
	}
	if state.ScenarioID == "" {
		return errors.New("scenario state repo: empty scenario id")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	var enabled any = state.Enabled
	if r.dialect == DialectSQLite {
		enabled = boolToInt(state.Enabled)
	}
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`
INSERT INTO scenario_states (scenario_id, enabled, last_triggered, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (scenario_id)
DO UPDATE SET
	enabled = EXCLUDED.enabled,
	last_triggered = EXCLUDED.last_triggered,
	updated_at = EXCLUDED.updated_at`),
		state.ScenarioID,
		enabled,
		r.dialect.nullableTimeArg(state.LastTriggered),
		r.dialect.TimeArg(state.UpdatedAt),
	)
	return err
}

// ListStates returns every stored scenario state.
func (r *StateRepository) ListStates(ctx context.Context) ([]alarms.ScenarioState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("scenario state repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT scenario_id, enabled, last_triggered, updated_at
FROM scenario_states
ORDER BY scenario_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alarms.ScenarioState
	for rows.Next() {
		var (
			state     alarms.ScenarioState
			enabled   any
			last      any
			updatedAt any
		)
		if err := rows.Scan(&state.ScenarioID, &enabled, &last, &updatedAt); err != nil {
			return nil, err
		}
		state.Enabled = parseBool(enabled)
		if last != nil {
			t, err := parseTime(last)
			if err != nil {
				return nil, err
			}
			if !t.IsZero() {
				state.LastTriggered = &t
			}
		}
		if state.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case []byte:
		return string(v) == "1" || string(v) == "t" || string(v) == "true"
	case string:
		return v == "1" || v == "t" || v == "true"
	default:
		return false
	}
}
