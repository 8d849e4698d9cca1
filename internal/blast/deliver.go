package blast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"gowa-blast/internal/queue"
	"gowa-blast/internal/session"
	"gowa-blast/internal/transport"
)

// Deliverer executes send-message tasks against the session's live handle.
// Send errors bubble up so the queue's retry policy covers them.
type Deliverer struct {
	sessions *session.Manager
}

func NewDeliverer(sessions *session.Manager) *Deliverer {
	return &Deliverer{sessions: sessions}
}

func (d *Deliverer) HandleSendMessage(ctx context.Context, task queue.Task) error {
	var payload MessageTask
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("bad message task payload: %w", err)
	}

	handle, status, ok := d.sessions.GetSession(payload.SessionID)
	if !ok {
		return fmt.Errorf("session %s not found", payload.SessionID)
	}
	if status != session.StatusConnected {
		return fmt.Errorf("session %s is %s, not connected", payload.SessionID, status)
	}

	log.Printf("blast: sending to %s (blast %s, hasMedia=%v)",
		payload.Recipient.Phone, payload.BlastID, payload.Media != nil)

	if payload.Media != nil {
		data, err := os.ReadFile(payload.Media.Path)
		if err != nil {
			return fmt.Errorf("read media file: %w", err)
		}
		media := transport.Media{
			Data:     data,
			Mimetype: payload.Media.Mimetype,
			Filename: payload.Media.Filename,
			Caption:  payload.Message,
		}
		return handle.SendMedia(ctx, payload.Recipient.Phone, media)
	}

	return handle.SendText(ctx, payload.Recipient.Phone, payload.Message)
}
