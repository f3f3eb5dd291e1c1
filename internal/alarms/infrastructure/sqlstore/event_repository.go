package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	alarms "plantwatch/internal/alarms/domain"
)

const defaultHistoryLimit = 1000

// EventRepository stores fired alarm events in alarm_history.
type EventRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewEventRepository constructs a repository.
func NewEventRepository(db *sql.DB, dialect Dialect) *EventRepository {
	return &EventRepository{db: db, dialect: dialect}
}

// Save inserts an event. Saving the same event id twice is a no-op.
func (r *EventRepository) Save(ctx context.Context, event alarms.Event) error {
	if r == nil || r.db == nil {
		return errors.New("alarm event repo: nil db")
	}
	if event.ID == "" {
		return errors.New("alarm event repo: empty event id")
	}
	conditions, err := json.Marshal(nonNilConditions(event.ConditionsMet))
	if err != nil {
		return err
	}
	actions, err := json.Marshal(nonNilStrings(event.ActionsTaken))
	if err != nil {
		return err
	}
	values, err := json.Marshal(nonNilValues(event.SensorValues))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(`
INSERT INTO alarm_history (
	event_id, scenario_id, scenario_name, level, triggered_at,
	conditions_met, actions_taken, sensor_values, message
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9
)
ON CONFLICT (event_id) DO NOTHING`),
		event.ID,
		event.ScenarioID,
		event.ScenarioName,
		string(event.Level),
		r.dialect.TimeArg(event.TriggeredAt),
		string(conditions),
		string(actions),
		string(values),
		event.Message,
	)
	return err
}

// ListSince returns events triggered at or after since, newest first.
func (r *EventRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]alarms.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`
SELECT event_id, scenario_id, scenario_name, level, triggered_at,
	conditions_met, actions_taken, sensor_values, message
FROM alarm_history
WHERE triggered_at >= $1
ORDER BY triggered_at DESC
LIMIT $2`), r.dialect.TimeArg(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alarms.Event
	for rows.Next() {
		var (
			event       alarms.Event
			level       string
			triggeredAt any
			conditions  []byte
			actions     []byte
			values      []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.ScenarioID,
			&event.ScenarioName,
			&level,
			&triggeredAt,
			&conditions,
			&actions,
			&values,
			&event.Message,
		); err != nil {
			return nil, err
		}
		event.Level = alarms.Level(level)
		if event.TriggeredAt, err = parseTime(triggeredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(conditions, &event.ConditionsMet); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(actions, &event.ActionsTaken); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(values, &event.SensorValues); err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored events.
func (r *EventRepository) Count(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alarm event repo: nil db")
	}
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alarm_history`).Scan(&n)
	return n, err
}

func nonNilConditions(v []alarms.ConditionResult) []alarms.ConditionResult {
	if v == nil {
		return []alarms.ConditionResult{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilValues(v map[string]float64) map[string]float64 {
	if v == nil {
		return map[string]float64{}
	}
	return v
}
