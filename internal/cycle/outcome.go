package cycle

import (
	"time"

	"github.com/loqalabs/readaloud/internal/ocr"
)

// State is the position of the capture loop.
type State int

const (
	Idle State = iota
	CaptureInFlight
	Recognizing
)

func (s State) String() string {
	switch s {
	case CaptureInFlight:
		return "capture_in_flight"
	case Recognizing:
		return "recognizing"
	default:
		return "idle"
	}
}

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// OutcomeKind is how a cycle ended.
type OutcomeKind string

const (
	OutcomeCompleted         OutcomeKind = "completed"
	OutcomeNoTextFound       OutcomeKind = "no_text_found"
	OutcomeCaptureFailed     OutcomeKind = "capture_failed"
	OutcomePreprocessFailed  OutcomeKind = "preprocess_failed"
	OutcomeRecognitionFailed OutcomeKind = "recognition_failed"
)

// Outcome is delivered exactly once for every cycle.
type Outcome struct {
	CycleID  string
	Trigger  Trigger
	Kind     OutcomeKind
	Err      error
	Tokens   []ocr.Token
	Spoken   []string
	Started  time.Time
	Finished time.Time
}

// Message is the one-line text shown to the user.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeCompleted:
		return "Text recognized"
	case OutcomeNoTextFound:
		return "No text found"
	case OutcomeCaptureFailed:
		return "Camera unavailable"
	case OutcomePreprocessFailed:
		return "Preview not ready"
	case OutcomeRecognitionFailed:
		return "Text recognition failed"
	default:
		return string(o.Kind)
	}
}

// Duration is the wall time of the cycle.
func (o Outcome) Duration() time.Duration {
	return o.Finished.Sub(o.Started)
}

// Notifier receives cycle outcomes on the control goroutine and must not
// block for long.
type Notifier interface {
	Notify(Outcome)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Outcome)

func (f NotifierFunc) Notify(o Outcome) { f(o) }

// Notifiers fans an outcome out in order.
type Notifiers []Notifier

func (n Notifiers) Notify(o Outcome) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(o)
		}
	}
}

// Status is a snapshot of the loop state.
type Status struct {
	State         State
	AutoCapture   bool
	ManualEnabled bool
	Speaking      bool
	CycleID       string
	Cycles        uint64
	LastOutcome   OutcomeKind
}
