package recording

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestSnapshot_SegmentsSortedPerRole(t *testing.T) {
	buf := New(0, 0)

	// Arrival order deliberately scrambled across roles and sequences.
	appends := []struct {
		role Role
		seq  int64
	}{
		{RoleAgent, 1},
		{RoleUser, 2},
		{RoleUser, 0},
		{RoleAgent, 0},
		{RoleUser, 1},
		{RoleAgent, 2},
	}
	for _, a := range appends {
		if err := buf.AppendAudio(a.role, a.seq, []byte{byte(a.seq)}); err != nil {
			t.Fatalf("AppendAudio(%s, %d) error = %v", a.role, a.seq, err)
		}
	}

	snap := buf.Snapshot()
	if len(snap.Segments) != 6 {
		t.Fatalf("segments = %d, want 6", len(snap.Segments))
	}
	var lastRole Role
	lastSeq := int64(-1)
	for _, seg := range snap.Segments {
		if seg.Role != lastRole {
			lastRole = seg.Role
			lastSeq = -1
		}
		if seg.Seq <= lastSeq {
			t.Fatalf("segments not strictly ordered within role %s: %d after %d", seg.Role, seg.Seq, lastSeq)
		}
		lastSeq = seg.Seq
	}
}

func TestAppendAudio_DuplicateSequenceRejected(t *testing.T) {
	buf := New(0, 0)
	if err := buf.AppendAudio(RoleUser, 7, []byte("a")); err != nil {
		t.Fatalf("first append error = %v", err)
	}
	err := buf.AppendAudio(RoleUser, 7, []byte("b"))
	if !errors.Is(err, ErrDuplicateSequence) {
		t.Fatalf("error = %v, want ErrDuplicateSequence", err)
	}
	// The same sequence number is fine for the other role.
	if err := buf.AppendAudio(RoleAgent, 7, []byte("c")); err != nil {
		t.Fatalf("agent append error = %v", err)
	}

	snap := buf.Snapshot()
	if snap.DroppedSegments.User != 1 {
		t.Fatalf("user drops = %d, want 1", snap.DroppedSegments.User)
	}
	if snap.DroppedSegments.Agent != 0 {
		t.Fatalf("agent drops = %d, want 0", snap.DroppedSegments.Agent)
	}
	if len(snap.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(snap.Segments))
	}
}

func TestAppendAudio_ByteBudget(t *testing.T) {
	buf := New(4, 0)
	if err := buf.AppendAudio(RoleUser, 0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("append within budget error = %v", err)
	}
	err := buf.AppendAudio(RoleUser, 1, []byte{4, 5})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("error = %v, want ErrBudgetExceeded", err)
	}
	if got := buf.Snapshot().DroppedSegments.User; got != 1 {
		t.Fatalf("user drops = %d, want 1", got)
	}
	// A smaller segment that still fits is accepted.
	if err := buf.AppendAudio(RoleUser, 2, []byte{6}); err != nil {
		t.Fatalf("append that fits error = %v", err)
	}
}

func TestAppendTurn_Budget(t *testing.T) {
	buf := New(0, 2)
	if err := buf.AppendTurn(RoleUser, "one"); err != nil {
		t.Fatalf("AppendTurn error = %v", err)
	}
	if err := buf.AppendTurn(RoleAgent, "two"); err != nil {
		t.Fatalf("AppendTurn error = %v", err)
	}
	err := buf.AppendTurn(RoleUser, "three")
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("error = %v, want ErrBudgetExceeded", err)
	}
	if got := buf.Snapshot().DroppedTurns.User; got != 1 {
		t.Fatalf("user turn drops = %d, want 1", got)
	}
}

func TestFreeze_SnapshotsAreByteIdentical(t *testing.T) {
	buf := New(0, 0)
	if err := buf.AppendTurn(RoleUser, "I need coverage info"); err != nil {
		t.Fatalf("AppendTurn error = %v", err)
	}
	for seq := int64(0); seq < 3; seq++ {
		if err := buf.AppendAudio(RoleUser, seq, []byte{byte(seq)}); err != nil {
			t.Fatalf("AppendAudio error = %v", err)
		}
	}

	buf.Freeze()
	buf.Freeze() // idempotent

	first, err := json.Marshal(buf.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(buf.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("frozen snapshots differ:\n%s\n%s", first, second)
	}
	if !buf.Snapshot().Frozen {
		t.Fatalf("snapshot not marked frozen")
	}
}

func TestFreeze_RejectsLaterAppends(t *testing.T) {
	buf := New(0, 0)
	buf.Freeze()

	if err := buf.AppendAudio(RoleAgent, 0, []byte("x")); !errors.Is(err, ErrFrozen) {
		t.Fatalf("AppendAudio error = %v, want ErrFrozen", err)
	}
	if err := buf.AppendTurn(RoleAgent, "late"); !errors.Is(err, ErrFrozen) {
		t.Fatalf("AppendTurn error = %v, want ErrFrozen", err)
	}

	// The pinned snapshot stays byte-identical; post-freeze drops only reach
	// the metrics side.
	snap := buf.Snapshot()
	if len(snap.Segments) != 0 || len(snap.Turns) != 0 {
		t.Fatalf("frozen snapshot gained content: %+v", snap)
	}
}

func TestSnapshot_MidSessionPreview(t *testing.T) {
	buf := New(0, 0)
	if err := buf.AppendTurn(RoleUser, "hello"); err != nil {
		t.Fatalf("AppendTurn error = %v", err)
	}

	preview := buf.Snapshot()
	if preview.Frozen {
		t.Fatalf("preview must not freeze the buffer")
	}
	if len(preview.Turns) != 1 {
		t.Fatalf("preview turns = %d, want 1", len(preview.Turns))
	}

	if err := buf.AppendTurn(RoleAgent, "hi there"); err != nil {
		t.Fatalf("AppendTurn error = %v", err)
	}
	if got := len(buf.Snapshot().Turns); got != 2 {
		t.Fatalf("post-preview turns = %d, want 2", got)
	}
	// The earlier preview is unaffected.
	if len(preview.Turns) != 1 {
		t.Fatalf("preview mutated, turns = %d", len(preview.Turns))
	}
}

func TestMarkDropped_CountsWithoutAppend(t *testing.T) {
	buf := New(0, 0)
	buf.MarkDropped(RoleAgent)
	buf.MarkDropped(RoleAgent)
	buf.MarkDropped(RoleUser)

	snap := buf.Snapshot()
	if snap.DroppedSegments.Agent != 2 || snap.DroppedSegments.User != 1 {
		t.Fatalf("drops = %+v", snap.DroppedSegments)
	}
	if snap.DroppedSegments.Total() != 3 {
		t.Fatalf("total = %d, want 3", snap.DroppedSegments.Total())
	}
}

func TestSnapshot_Transcript(t *testing.T) {
	buf := New(0, 0)
	_ = buf.AppendTurn(RoleUser, "Do you have a minute?")
	_ = buf.AppendTurn(RoleAgent, "Well, um, I suppose so.")

	lines := buf.Snapshot().Transcript()
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0] != "user: Do you have a minute?" {
		t.Fatalf("line[0] = %q", lines[0])
	}
	if lines[1] != "agent: Well, um, I suppose so." {
		t.Fatalf("line[1] = %q", lines[1])
	}
}

func TestBuffer_ConcurrentAppends(t *testing.T) {
	buf := New(0, 0)
	const perRole = 128

	var wg sync.WaitGroup
	for _, role := range []Role{RoleUser, RoleAgent} {
		wg.Add(1)
		go func(role Role) {
			defer wg.Done()
			for seq := int64(0); seq < perRole; seq++ {
				if err := buf.AppendAudio(role, seq, []byte{byte(seq)}); err != nil {
					t.Errorf("AppendAudio(%s, %d) error = %v", role, seq, err)
				}
				if seq%16 == 0 {
					if err := buf.AppendTurn(role, fmt.Sprintf("turn %d", seq)); err != nil {
						t.Errorf("AppendTurn(%s) error = %v", role, err)
					}
				}
			}
		}(role)
	}
	wg.Wait()

	snap := buf.Snapshot()
	if len(snap.Segments) != 2*perRole {
		t.Fatalf("segments = %d, want %d", len(snap.Segments), 2*perRole)
	}
	if snap.DroppedSegments.Total() != 0 {
		t.Fatalf("drops = %+v, want none", snap.DroppedSegments)
	}
}
