package application

import (
	"sync"
	"time"

	monitoring "plantwatch/internal/monitoring/domain"
)

type violationLog struct {
	mu      sync.Mutex
	limit   int
	entries []monitoring.Violation
}

func newViolationLog(limit int) *violationLog {
	return &violationLog{limit: limit}
}

func (l *violationLog) append(violations ...monitoring.Violation) {
	if l == nil || len(violations) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, violations...)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append([]monitoring.Violation(nil), l.entries[over:]...)
	}
}

func (l *violationLog) since(since time.Time) []monitoring.Violation {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]monitoring.Violation, 0, len(l.entries))
	for _, v := range l.entries {
		if !v.Timestamp.Before(since) {
			out = append(out, v)
		}
	}
	return out
}
