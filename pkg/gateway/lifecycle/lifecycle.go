// Package lifecycle holds the process state handlers share: the draining
// flag flipped during graceful shutdown, and the start time readiness
// reports uptime from.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle methods tolerate a nil receiver so tests can omit it.
type Lifecycle struct {
	startedAt time.Time
	draining  atomic.Bool
}

func New() *Lifecycle {
	return &Lifecycle{startedAt: time.Now()}
}

// SetDraining marks the process as draining. New voice sessions are refused
// while draining; running ones finish on their own schedule.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

func (l *Lifecycle) Uptime() time.Duration {
	if l == nil || l.startedAt.IsZero() {
		return 0
	}
	return time.Since(l.startedAt)
}
