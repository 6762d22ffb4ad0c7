package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
)

const (
	streamEventDiagram   = "diagram"
	streamEventHeartbeat = "heartbeat"

	heartbeatInterval = 25 * time.Second
)

type streamPayload struct {
	Diagram diagram.Diagram `json:"diagram"`
	Version int64           `json:"version"`
	Origin  string          `json:"origin,omitempty"`
}

// handleDiagramStream emits the current diagram, then every accepted write
// as a "diagram" server-sent event.
func (h *httpHandler) handleDiagramStream(c *gin.Context) {
	editor, _, release, ok := h.openDiagram(c)
	if !ok {
		return
	}
	defer release()
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()

	events, cleanup := h.store.Subscribe(ctx, editor.ID())
	defer cleanup()
	doc, _ := editor.Snapshot()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(streamEventDiagram, streamPayload{Diagram: doc, Version: editor.Version()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case event, open := <-events:
			if !open {
				return false
			}
			if !canView(event.Diagram, userID) {
				// the diagram went private under a viewer that no longer has access
				return false
			}
			c.SSEvent(streamEventDiagram, streamPayload{
				Diagram: event.Diagram,
				Version: event.Version,
				Origin:  event.Origin,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"at_s": time.Now().UTC().Unix()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}
