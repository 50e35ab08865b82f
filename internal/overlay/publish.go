package overlay

import (
	"log/slog"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/protocol"
)

// BusPublisher returns a subscriber that broadcasts committed overlays. size
// reports the coordinate space the boxes are expressed in.
func BusPublisher(client *bus.Client, nodeID string, size func() (int, int), log *slog.Logger) func(Snapshot) {
	return func(snap Snapshot) {
		width, height := size()
		if err := client.PublishJSON(protocol.SubjectOverlay, ToPayload(nodeID, snap, width, height)); err != nil {
			log.Warn("failed to publish overlay", slog.String("error", err.Error()))
		}
	}
}

// ToPayload converts a snapshot to its wire form.
func ToPayload(nodeID string, snap Snapshot, width, height int) protocol.OverlaySnapshot {
	boxes := make([]protocol.BoxPayload, 0, len(snap.Tokens))
	for _, tok := range snap.Tokens {
		boxes = append(boxes, protocol.BoxPayload{
			Text:   tok.Text,
			X:      tok.Bounds.X,
			Y:      tok.Bounds.Y,
			Width:  tok.Bounds.Width,
			Height: tok.Bounds.Height,
		})
	}
	return protocol.OverlaySnapshot{
		NodeID:    nodeID,
		Version:   snap.Version,
		Width:     width,
		Height:    height,
		Boxes:     boxes,
		Timestamp: snap.UpdatedAt,
	}
}
