package config

import (
	alarms "plantwatch/internal/alarms/domain"
	monitoring "plantwatch/internal/monitoring/domain"
)

// DefaultThresholds returns the reference desalination plant ranges.
func DefaultThresholds() []monitoring.ThresholdConfig {
	return []monitoring.ThresholdConfig{
		{Tag: "TMP", Unit: "bar", Description: "Transmembrane pressure",
			HardMin: 0.5, HardMax: 3.0, WarnMin: 0.8, WarnMax: 2.5, CritMin: 0.5, CritMax: 2.8},
		{Tag: "DP", Unit: "bar", Description: "Differential pressure",
			HardMin: 0.1, HardMax: 1.5, WarnMin: 0.2, WarnMax: 1.2, CritMin: 0.1, CritMax: 1.4},
		{Tag: "COND", Unit: "uS/cm", Description: "Conductivity",
			HardMin: 0, HardMax: 500, WarnMin: 0, WarnMax: 400, CritMin: 0, CritMax: 450},
		{Tag: "TEMP", Unit: "°C", Description: "Feed temperature",
			HardMin: 15, HardMax: 35, WarnMin: 18, WarnMax: 32, CritMin: 15, CritMax: 35},
		{Tag: "PH", Unit: "", Description: "pH",
			HardMin: 6.5, HardMax: 8.5, WarnMin: 6.8, WarnMax: 8.2, CritMin: 6.5, CritMax: 8.5},
	}
}

// DefaultScenarios returns the reference scenarios S001 to S004.
func DefaultScenarios() []alarms.Scenario {
	return []alarms.Scenario{
		{
			ID:          "S001",
			Name:        "Membrane pressure high",
			Description: "TMP above warning level",
			Level:       alarms.LevelWarning,
			Enabled:     true,
			Conditions: []alarms.Condition{
				{Tag: "TMP", Operator: alarms.OperatorGreater, Threshold: 2.5, DurationSeconds: 60,
					Description: "TMP above 2.5 bar for 1 minute"},
			},
			Actions: []alarms.Action{
				{Type: alarms.ActionNotify, Parameters: map[string]any{"target": "operator", "method": "sms"},
					Description: "SMS to operator"},
				{Type: alarms.ActionAdjust, Parameters: map[string]any{"pump_speed": -10}, DelaySeconds: 30,
					Description: "Reduce pump speed by 10%"},
			},
			CooldownSeconds: 600,
		},
		{
			ID:          "S002",
			Name:        "Conductivity spike",
			Description: "Suspected membrane breach, conductivity rising",
			Level:       alarms.LevelCritical,
			Enabled:     true,
			Conditions: []alarms.Condition{
				{Tag: "COND", Operator: alarms.OperatorGreater, Threshold: 450,
					Description: "Conductivity above 450 uS/cm"},
			},
			Actions: []alarms.Action{
				{Type: alarms.ActionNotify, Parameters: map[string]any{"target": "all", "method": "emergency"},
					Description: "Emergency notification to all"},
				{Type: alarms.ActionStop, Parameters: map[string]any{"system": "RO"}, DelaySeconds: 60,
					Description: "Stop the RO system"},
			},
			CooldownSeconds: 1800,
		},
		{
			ID:          "S003",
			Name:        "Pump degradation",
			Description: "Suspected pump performance loss",
			Level:       alarms.LevelWarning,
			Enabled:     true,
			Conditions: []alarms.Condition{
				{Tag: "DP", Operator: alarms.OperatorGreater, Threshold: 1.2, Description: "DP above 1.2 bar"},
				{Tag: "FLOW", Operator: alarms.OperatorLess, Threshold: 80, Description: "Flow below 80%"},
			},
			Actions: []alarms.Action{
				{Type: alarms.ActionLog, Parameters: map[string]any{"severity": "warning"},
					Description: "Write warning log"},
				{Type: alarms.ActionMaintenance, Parameters: map[string]any{"type": "pump_inspection"}, DelaySeconds: 300,
					Description: "Request pump inspection"},
			},
			CooldownSeconds: 900,
		},
		{
			ID:          "S004",
			Name:        "Emergency stop",
			Description: "Pressure over limit, emergency stop required",
			Level:       alarms.LevelEmergency,
			Enabled:     true,
			Conditions: []alarms.Condition{
				{Tag: "PRESSURE", Operator: alarms.OperatorGreater, Threshold: 100,
					Description: "Pressure above 100 bar"},
			},
			Actions: []alarms.Action{
				{Type: alarms.ActionEmergency, Parameters: map[string]any{"all_systems": true},
					Description: "Emergency stop of all systems"},
				{Type: alarms.ActionNotify, Parameters: map[string]any{"target": "emergency_team", "method": "all"},
					Description: "Notify the emergency team"},
			},
			CooldownSeconds: 3600,
		},
	}
}
