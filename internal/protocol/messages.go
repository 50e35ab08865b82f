package protocol

import "time"

// BoxPayload is one drawn bounding box.
type BoxPayload struct {
	Text   string `json:"text"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// OverlaySnapshot is broadcast whenever a cycle replaces the overlay.
type OverlaySnapshot struct {
	NodeID    string       `json:"node_id"`
	Version   uint64       `json:"version"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Boxes     []BoxPayload `json:"boxes"`
	Timestamp time.Time    `json:"timestamp"`
}

// Notification is the one-shot user facing message for a finished cycle.
type Notification struct {
	NodeID    string    `json:"node_id"`
	CycleID   string    `json:"cycle_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Spoken    []string  `json:"spoken,omitempty"`
	Tokens    int       `json:"tokens"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlRequest drives the capture loop remotely.
type ControlRequest struct {
	Action  string `json:"action"` // capture, toggle, auto, status
	Enabled *bool  `json:"enabled,omitempty"`
}

// ControlReply answers a ControlRequest with the resulting loop status.
type ControlReply struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	Started     bool   `json:"started"`
	State       string `json:"state"`
	AutoCapture bool   `json:"auto_capture"`
	Speaking    bool   `json:"speaking"`
	Cycles      uint64 `json:"cycles"`
	LastOutcome string `json:"last_outcome,omitempty"`
}

// TTSRequest asks a bus connected synthesizer to speak text.
type TTSRequest struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Rate      float64 `json:"rate,omitempty"`
	Target    string  `json:"target"`
	TraceID   string  `json:"trace_id,omitempty"`
}

// TTSCancel interrupts a TTSRequest that is queued or playing.
type TTSCancel struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target"`
}

// TTSStatus reports completion of a TTSRequest.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NodeAnnouncement advertises a reader node and what backs it.
type NodeAnnouncement struct {
	NodeID       string            `json:"node_id"`
	Capabilities map[string]string `json:"capabilities"`
	Timestamp    time.Time         `json:"timestamp"`
}

// NodeHeartbeat carries the loop status at a point in time.
type NodeHeartbeat struct {
	NodeID      string    `json:"node_id"`
	State       string    `json:"state"`
	AutoCapture bool      `json:"auto_capture"`
	Speaking    bool      `json:"speaking"`
	Cycles      uint64    `json:"cycles"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectOverlay       = "readaloud.overlay"
	SubjectNotify        = "readaloud.notify"
	SubjectControlPrefix = "readaloud.control"
	SubjectNodeAnnounce  = "readaloud.node.announce"
	SubjectNodeHeartbeat = "readaloud.node.heartbeat"
	SubjectTTSRequest    = "tts.request"
	SubjectTTSDone       = "tts.done"
	SubjectTTSCancel     = "tts.cancel"
)

// ControlSubject is the request/reply subject for one node.
func ControlSubject(nodeID string) string {
	return SubjectControlPrefix + "." + nodeID
}
