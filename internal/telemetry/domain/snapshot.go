package telemetry

import "time"

// Snapshot maps tag names to their most recent value.
type Snapshot map[string]float64

// Reading is one timestamped value of a tag.
type Reading struct {
	Tag   string
	Value float64
	At    time.Time
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
