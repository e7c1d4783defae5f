package handlers

import (
	"net/http"

	"github.com/pitchlab/voicerelay/pkg/gateway/apierror"
	"github.com/pitchlab/voicerelay/pkg/gateway/live/recording"
)

// RecordingsHandler exposes session recordings to the post-call analysis
// collaborator. Snapshots taken mid-session are previews; once the session
// closed the payload is frozen and identical on every fetch.
type RecordingsHandler struct {
	Store *recording.Store
}

type recordingResponse struct {
	SessionID       string                   `json:"session_id"`
	State           string                   `json:"state"`
	Transcript      []string                 `json:"transcript"`
	Turns           []recording.Turn         `json:"turns"`
	Segments        []recording.AudioSegment `json:"segments"`
	DroppedSegments recording.DropCounts     `json:"dropped_segments"`
	DroppedTurns    recording.DropCounts     `json:"dropped_turns"`
}

func (h RecordingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	buf, ok := h.Store.Get(id)
	if !ok {
		writeErrorJSON(w, &apierror.Error{
			Type:      apierror.ErrNotFound,
			Message:   "session recording not found: " + id,
			RequestID: requestIDFromContext(r.Context()),
		}, http.StatusNotFound)
		return
	}

	snap := buf.Snapshot()
	state := "open"
	if snap.Frozen {
		state = "closed"
	}
	writeJSON(w, http.StatusOK, recordingResponse{
		SessionID:       id,
		State:           state,
		Transcript:      snap.Transcript(),
		Turns:           snap.Turns,
		Segments:        snap.Segments,
		DroppedSegments: snap.DroppedSegments,
		DroppedTurns:    snap.DroppedTurns,
	})
}
