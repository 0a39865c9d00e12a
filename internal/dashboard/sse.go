package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/parley/internal/room"
)

// sseHeartbeat keeps idle relay connections from being reaped by proxies.
const sseHeartbeat = 15 * time.Second

// handleRoomEvents relays one room's updates as server-sent events. The
// client receives a full snapshot first, then incremental updates in the
// order the store published them.
func handleRoomEvents(store *room.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("id")
		snap, ok := store.Snapshot(roomID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
			return
		}
		updates, cancel, err := store.Subscribe(roomID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
			return
		}
		defer cancel()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "snapshot", roomToView(snap))
		c.Writer.Flush()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(sseHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case u, ok := <-updates:
				if !ok {
					// Room removed from the store.
					return
				}
				writeSSE(c.Writer, string(u.Kind), updateToView(u))
				c.Writer.Flush()
			}
		}
	}
}

// updateToView maps a store update onto its wire payload. Only the fields
// relevant to the update's kind are sent.
func updateToView(u room.Update) any {
	switch u.Kind {
	case room.UpdateMessage:
		if u.Message != nil {
			return messageToView(*u.Message)
		}
	case room.UpdateOffer:
		if u.Offer != nil {
			return offerToView(*u.Offer)
		}
	case room.UpdateBestOffer:
		return bestToView(u.Best)
	case room.UpdateRound:
		return gin.H{"round": u.Round, "max_rounds": u.MaxRounds}
	case room.UpdateDecision:
		return decisionToView(u.Decision)
	case room.UpdateStatus:
		return gin.H{"status": string(u.Status)}
	}
	return gin.H{"room_id": u.RoomID}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
