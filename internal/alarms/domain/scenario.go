package alarms

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Level is the severity of a scenario.
type Level string

const (
	LevelInfo      Level = "info"
	LevelNotice    Level = "notice"
	LevelWarning   Level = "warning"
	LevelCritical  Level = "critical"
	LevelEmergency Level = "emergency"
)

// Rank orders levels from info to emergency. Unknown levels rank 0.
func (l Level) Rank() int {
	switch l {
	case LevelInfo:
		return 1
	case LevelNotice:
		return 2
	case LevelWarning:
		return 3
	case LevelCritical:
		return 4
	case LevelEmergency:
		return 5
	default:
		return 0
	}
}

// Valid returns true when level is supported.
func (l Level) Valid() bool {
	return l.Rank() > 0
}

// ParseLevel normalizes a level string.
func ParseLevel(value string) (Level, bool) {
	level := Level(strings.ToLower(strings.TrimSpace(value)))
	return level, level.Valid()
}

type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
	OperatorEqual          Operator = "=="
	OperatorNotEqual       Operator = "!="
)

// EqualityEpsilon is the tolerance for == and !=.
const EqualityEpsilon = 0.01

// Valid returns true when operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual, OperatorEqual, OperatorNotEqual:
		return true
	default:
		return false
	}
}

// Compare applies the operator. Unsupported operators never match.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OperatorGreater:
		return value > threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLess:
		return value < threshold
	case OperatorLessOrEqual:
		return value <= threshold
	case OperatorEqual:
		return math.Abs(value-threshold) < EqualityEpsilon
	case OperatorNotEqual:
		return math.Abs(value-threshold) >= EqualityEpsilon
	default:
		return false
	}
}

// Condition is a single comparison of a tag against a threshold.
type Condition struct {
	Tag             string   `json:"tag" yaml:"tag"`
	Operator        Operator `json:"operator" yaml:"operator"`
	Threshold       float64  `json:"threshold" yaml:"threshold"`
	DurationSeconds int      `json:"duration_seconds" yaml:"duration_seconds"`
	Description     string   `json:"description,omitempty" yaml:"description"`
}

// Duration returns the hold time of the condition.
func (c Condition) Duration() time.Duration {
	if c.DurationSeconds <= 0 {
		return 0
	}
	return time.Duration(c.DurationSeconds) * time.Second
}

// ActionType names a remediation kind.
type ActionType string

const (
	ActionLog         ActionType = "log"
	ActionNotify      ActionType = "notify"
	ActionAdjust      ActionType = "adjust"
	ActionStop        ActionType = "stop"
	ActionEmergency   ActionType = "emergency"
	ActionMaintenance ActionType = "maintenance"
)

// Valid returns true when the action type is known.
func (t ActionType) Valid() bool {
	switch t {
	case ActionLog, ActionNotify, ActionAdjust, ActionStop, ActionEmergency, ActionMaintenance:
		return true
	default:
		return false
	}
}

// Action is a remediation step of a scenario.
type Action struct {
	Type         ActionType     `json:"type" yaml:"type"`
	Parameters   map[string]any `json:"parameters,omitempty" yaml:"parameters"`
	DelaySeconds int            `json:"delay_seconds" yaml:"delay_seconds"`
	Description  string         `json:"description,omitempty" yaml:"description"`
}

// Delay returns the dispatch delay.
func (a Action) Delay() time.Duration {
	if a.DelaySeconds <= 0 {
		return 0
	}
	return time.Duration(a.DelaySeconds) * time.Second
}

// Label is the entry written to an event's actions list.
func (a Action) Label() string {
	if a.DelaySeconds > 0 {
		return fmt.Sprintf("%s (delayed %ds)", a.Type, a.DelaySeconds)
	}
	return string(a.Type)
}

// DefaultCooldownSeconds applies to configured scenarios that omit a cooldown.
const DefaultCooldownSeconds = 300

// Scenario is a named rule: all conditions true means alarm.
type Scenario struct {
	ID              string      `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Description     string      `json:"description" yaml:"description"`
	Level           Level       `json:"level" yaml:"level"`
	Conditions      []Condition `json:"conditions" yaml:"conditions"`
	Actions         []Action    `json:"actions" yaml:"actions"`
	CooldownSeconds int         `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	Enabled         bool        `json:"enabled" yaml:"enabled"`
	LastTriggered   *time.Time  `json:"last_triggered,omitempty" yaml:"-"`
}

// Cooldown returns the minimum interval between firings.
func (s Scenario) Cooldown() time.Duration {
	if s.CooldownSeconds <= 0 {
		return 0
	}
	return time.Duration(s.CooldownSeconds) * time.Second
}

// Message renders "[LEVEL] name: description".
func (s Scenario) Message() string {
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(s.Level)), s.Name, s.Description)
}

// Validate reports every configuration problem of the scenario. A scenario with
// problems is still loaded; unknown operators never match and unknown action
// types are skipped at dispatch.
func (s Scenario) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errors.New("scenario: empty id"))
	}
	if s.Name == "" {
		errs = append(errs, fmt.Errorf("scenario %s: empty name", s.ID))
	}
	if !s.Level.Valid() {
		errs = append(errs, fmt.Errorf("scenario %s: invalid level %q", s.ID, s.Level))
	}
	if len(s.Conditions) == 0 {
		errs = append(errs, fmt.Errorf("scenario %s: no conditions", s.ID))
	}
	for i, cond := range s.Conditions {
		if cond.Tag == "" {
			errs = append(errs, fmt.Errorf("scenario %s: condition %d has empty tag", s.ID, i))
		}
		if !cond.Operator.Valid() {
			errs = append(errs, fmt.Errorf("scenario %s: condition %d has invalid operator %q", s.ID, i, cond.Operator))
		}
		if cond.DurationSeconds < 0 {
			errs = append(errs, fmt.Errorf("scenario %s: condition %d has negative duration", s.ID, i))
		}
	}
	for i, action := range s.Actions {
		if !action.Type.Valid() {
			errs = append(errs, fmt.Errorf("scenario %s: action %d has unknown type %q", s.ID, i, action.Type))
		}
		if action.DelaySeconds < 0 {
			errs = append(errs, fmt.Errorf("scenario %s: action %d has negative delay", s.ID, i))
		}
	}
	if s.CooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("scenario %s: negative cooldown", s.ID))
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Scenario) Clone() Scenario {
	out := s
	out.Conditions = append([]Condition(nil), s.Conditions...)
	out.Actions = make([]Action, len(s.Actions))
	for i, action := range s.Actions {
		out.Actions[i] = action
		if action.Parameters != nil {
			params := make(map[string]any, len(action.Parameters))
			for k, v := range action.Parameters {
				params[k] = v
			}
			out.Actions[i].Parameters = params
		}
	}
	if s.LastTriggered != nil {
		last := *s.LastTriggered
		out.LastTriggered = &last
	}
	return out
}
