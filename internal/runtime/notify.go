package runtime

import (
	"log/slog"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/cycle"
	"github.com/loqalabs/readaloud/internal/protocol"
)

// userNotifier surfaces the short message for cycles that need one. A
// successful read needs none; the overlay and speech are the feedback.
func userNotifier(log *slog.Logger) cycle.Notifier {
	log = log.With(slog.String("component", "notify"))
	return cycle.NotifierFunc(func(o cycle.Outcome) {
		if o.Kind == cycle.OutcomeCompleted {
			return
		}
		log.Info(o.Message(), slog.String("cycle_id", o.CycleID), slog.String("outcome", string(o.Kind)))
	})
}

// busNotifier broadcasts every outcome for remote displays.
func busNotifier(client *bus.Client, nodeID string, log *slog.Logger) cycle.Notifier {
	return cycle.NotifierFunc(func(o cycle.Outcome) {
		if err := client.PublishJSON(protocol.SubjectNotify, toNotification(nodeID, o)); err != nil {
			log.Warn("failed to publish notification", slog.String("error", err.Error()))
		}
	})
}

func toNotification(nodeID string, o cycle.Outcome) protocol.Notification {
	return protocol.Notification{
		NodeID:    nodeID,
		CycleID:   o.CycleID,
		Kind:      string(o.Kind),
		Message:   o.Message(),
		Spoken:    o.Spoken,
		Tokens:    len(o.Tokens),
		Timestamp: o.Finished.UTC(),
	}
}
