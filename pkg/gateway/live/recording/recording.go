// Package recording accumulates per-session transcript turns and audio
// segments. Sessions append while live; the post-call analysis collaborator
// reads a frozen snapshot after close. Mid-session reads are allowed and see
// a consistent copy of whatever has arrived so far.
package recording

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Role tells which side of the call produced a turn or segment.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

var (
	// ErrFrozen is returned for appends after the buffer froze.
	ErrFrozen = errors.New("recording is frozen")
	// ErrDuplicateSequence is returned when a role reuses a sequence number.
	ErrDuplicateSequence = errors.New("duplicate audio sequence")
	// ErrBudgetExceeded is returned when an append would exceed the
	// configured audio byte or turn count budget.
	ErrBudgetExceeded = errors.New("recording budget exceeded")
)

// Turn is one finished utterance.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// AudioSegment is one chunk of decoded audio. Within a role, segments are
// uniquely numbered; Snapshot returns them in sequence order no matter how
// the two forwarding directions interleaved their appends.
type AudioSegment struct {
	Role Role   `json:"role"`
	Seq  int64  `json:"seq"`
	Data []byte `json:"data"`
}

// DropCounts carries per-role counts of appends that were rejected or never
// made it into the buffer.
type DropCounts struct {
	User  int64 `json:"user"`
	Agent int64 `json:"agent"`
}

// Total sums both roles.
func (d DropCounts) Total() int64 {
	return d.User + d.Agent
}

func (d *DropCounts) inc(role Role) {
	if role == RoleAgent {
		d.Agent++
		return
	}
	d.User++
}

// Snapshot is an immutable view of a recording. Segments are sorted by
// (role, seq). After Freeze, every Snapshot call returns the same value.
type Snapshot struct {
	Turns           []Turn         `json:"turns"`
	Segments        []AudioSegment `json:"segments"`
	DroppedSegments DropCounts     `json:"dropped_segments"`
	DroppedTurns    DropCounts     `json:"dropped_turns"`
	Frozen          bool           `json:"frozen"`
}

// Transcript renders the turn list as role-prefixed lines, the shape the
// analysis collaborator consumes.
func (s Snapshot) Transcript() []string {
	lines := make([]string, 0, len(s.Turns))
	for _, turn := range s.Turns {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Role, turn.Text))
	}
	return lines
}

// Buffer is one session's recording. Safe for concurrent use by the two
// forwarding directions.
type Buffer struct {
	maxAudioBytes int64
	maxTurns      int

	mu         sync.Mutex
	turns      []Turn
	segments   []AudioSegment
	seenSeqs   map[Role]map[int64]struct{}
	audioBytes int64
	dropped    DropCounts
	turnDrops  DropCounts
	frozen     bool
	final      Snapshot
}

// New returns an empty buffer. maxAudioBytes bounds the sum of decoded audio
// bytes across both roles; maxTurns bounds the turn count. Zero or negative
// values disable the respective bound.
func New(maxAudioBytes int64, maxTurns int) *Buffer {
	return &Buffer{
		maxAudioBytes: maxAudioBytes,
		maxTurns:      maxTurns,
		turns:         make([]Turn, 0, 16),
		segments:      make([]AudioSegment, 0, 64),
		seenSeqs: map[Role]map[int64]struct{}{
			RoleUser:  make(map[int64]struct{}),
			RoleAgent: make(map[int64]struct{}),
		},
	}
}

// AppendTurn records a finished utterance.
func (b *Buffer) AppendTurn(role Role, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		b.turnDrops.inc(role)
		return ErrFrozen
	}
	if b.maxTurns > 0 && len(b.turns) >= b.maxTurns {
		b.turnDrops.inc(role)
		return fmt.Errorf("%w: %d turns", ErrBudgetExceeded, b.maxTurns)
	}
	b.turns = append(b.turns, Turn{Role: role, Text: text})
	return nil
}

// AppendAudio records one decoded segment under the caller-assigned sequence
// number. The buffer takes ownership of data. Rejections are counted per role
// and visible in Snapshot; they are never silent.
func (b *Buffer) AppendAudio(role Role, seq int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		b.dropped.inc(role)
		return ErrFrozen
	}
	if _, dup := b.seenSeqs[role][seq]; dup {
		b.dropped.inc(role)
		return fmt.Errorf("%w: role %s seq %d", ErrDuplicateSequence, role, seq)
	}
	if b.maxAudioBytes > 0 && b.audioBytes+int64(len(data)) > b.maxAudioBytes {
		b.dropped.inc(role)
		return fmt.Errorf("%w: %d audio bytes", ErrBudgetExceeded, b.maxAudioBytes)
	}

	b.seenSeqs[role][seq] = struct{}{}
	b.audioBytes += int64(len(data))
	b.segments = append(b.segments, AudioSegment{Role: role, Seq: seq, Data: data})
	return nil
}

// MarkDropped counts a segment that never reached the buffer, such as one
// whose transport payload failed to decode.
func (b *Buffer) MarkDropped(role Role) {
	b.mu.Lock()
	b.dropped.inc(role)
	b.mu.Unlock()
}

// Snapshot returns an immutable copy of the recording. Its segments are
// sorted by (role, seq). Safe to call mid-session; after Freeze it returns
// the pinned final snapshot unchanged on every call.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return b.final
	}
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() Snapshot {
	turns := make([]Turn, len(b.turns))
	copy(turns, b.turns)

	segments := make([]AudioSegment, len(b.segments))
	copy(segments, b.segments)
	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].Role != segments[j].Role {
			return segments[i].Role < segments[j].Role
		}
		return segments[i].Seq < segments[j].Seq
	})

	return Snapshot{
		Turns:           turns,
		Segments:        segments,
		DroppedSegments: b.dropped,
		DroppedTurns:    b.turnDrops,
		Frozen:          b.frozen,
	}
}

// Freeze makes the buffer read-only and pins the snapshot every later read
// returns. Idempotent.
func (b *Buffer) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}
	b.frozen = true
	b.final = b.snapshotLocked()
}

// Frozen reports whether the buffer has been frozen.
func (b *Buffer) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}
