// Package sessions tracks live relay sessions for shutdown coordination and
// enforces process-wide session policies.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAgentInUse is returned when a second session tries to use an
	// ephemeral agent that already has a live session. Ephemeral agents are
	// single-session; persistent agents are unrestricted.
	ErrAgentInUse = errors.New("agent already has a live session")
	// ErrSessionLimit is returned when the process is at its session cap.
	ErrSessionLimit = errors.New("session limit reached")
)

// Handle is what a session exposes to the tracker: how to cancel it and how
// to warn the client, plus the agent binding the tracker polices.
type Handle struct {
	AgentID   string
	Ephemeral bool
	Cancel    func()
	Warn      func(code, message string) error
}

// Tracker registers live sessions and fans out warn/cancel during shutdown.
type Tracker struct {
	limit int

	mu             sync.Mutex
	sessions       map[string]*trackedSession
	ephemeralInUse map[string]string
	wg             sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

// NewTracker returns a tracker capping live sessions at limit. A non-positive
// limit disables the cap.
func NewTracker(limit int) *Tracker {
	return &Tracker{
		limit:          limit,
		sessions:       make(map[string]*trackedSession),
		ephemeralInUse: make(map[string]string),
	}
}

// Register adds a session and returns its unregister func. It fails when the
// session cap is reached or when the handle's ephemeral agent is already
// bound to another live session.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func(), err error) {
	if t == nil {
		return func() {}, nil
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if _, exists := t.sessions[sessionID]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("session %s already registered", sessionID)
	}
	if t.limit > 0 && len(t.sessions) >= t.limit {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %d live", ErrSessionLimit, t.limit)
	}
	if h.Ephemeral && h.AgentID != "" {
		if holder, busy := t.ephemeralInUse[h.AgentID]; busy {
			t.mu.Unlock()
			return nil, fmt.Errorf("%w: %s (session %s)", ErrAgentInUse, h.AgentID, holder)
		}
		t.ephemeralInUse[h.AgentID] = sessionID
	}
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	return func() { t.unregister(sessionID, entry) }, nil
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		if entry.handle.Ephemeral && entry.handle.AgentID != "" {
			if t.ephemeralInUse[entry.handle.AgentID] == sessionID {
				delete(t.ephemeralInUse, entry.handle.AgentID)
			}
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count reports the number of live sessions.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// WarnAll sends a warning to every live session. Warn callbacks run outside
// the tracker lock; errors are best-effort ignored.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(code, message string) error
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll cancels every live session. Cancel callbacks run outside the
// tracker lock.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx ends.
// It reports whether all sessions finished.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
