package ws

import (
	"context"
	"encoding/json"
	"log"

	"gowa-blast/internal/store"
)

// scopeFields is the subset of every event payload the router needs.
type scopeFields struct {
	BlastID   string `json:"blastId"`
	SessionID string `json:"sessionId"`
}

var topicTypes = map[string]string{
	store.TopicBlastProgress:  "blast_progress",
	store.TopicBlastStarted:   "blast_started",
	store.TopicBlastCompleted: "blast_completed",
	store.TopicSessionStatus:  "session_status",
	store.TopicQRUpdate:       "qr_update",
}

// RunBridge subscribes the hub to the shared store's event topics and feeds
// the routing loop. It returns once subscribed; the pump runs until ctx ends.
func RunBridge(ctx context.Context, st store.Store, hub *Hub) error {
	messages, err := st.Subscribe(ctx,
		store.TopicBlastProgress,
		store.TopicBlastStarted,
		store.TopicBlastCompleted,
		store.TopicSessionStatus,
		store.TopicQRUpdate,
	)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType, ok := topicTypes[msg.Topic]
			if !ok {
				continue
			}

			var scope scopeFields
			if err := json.Unmarshal([]byte(msg.Payload), &scope); err != nil {
				log.Printf("ws: failed to parse %s payload: %v", msg.Topic, err)
				continue
			}

			routed := RoutedEvent{
				Event: Event{Type: eventType, Data: json.RawMessage(msg.Payload)},
			}
			switch msg.Topic {
			case store.TopicBlastProgress, store.TopicBlastStarted, store.TopicBlastCompleted:
				routed.BlastID = scope.BlastID
			default:
				routed.SessionID = scope.SessionID
			}

			hub.Publish(routed)
		}
	}()
	return nil
}
