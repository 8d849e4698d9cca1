package blast

import (
	"context"
	"encoding/json"
	"log"

	"gowa-blast/internal/queue"
	"gowa-blast/internal/store"
)

// Tracker consumes task outcomes and maintains the per-blast remaining
// counter. Both success and terminal failure decrement, so a dead task can
// never leave a blast stuck short of completion.
type Tracker struct {
	store store.Store
}

func NewTracker(st store.Store) *Tracker {
	return &Tracker{store: st}
}

func (t *Tracker) OnDelivered(task queue.Task) {
	t.finish(task, "SENT")
}

func (t *Tracker) OnFailed(task queue.Task, reason string) {
	t.finish(task, "FAILED")
}

func (t *Tracker) finish(task queue.Task, status string) {
	if task.Type != queue.TaskSendMessage {
		return
	}

	var payload MessageTask
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		log.Printf("blast: bad message task payload in tracker: %v", err)
		return
	}
	ctx := context.Background()

	progress, _ := json.Marshal(ProgressPayload{
		BlastID:   payload.BlastID,
		Status:    status,
		Recipient: payload.Recipient,
	})
	if err := t.store.Publish(ctx, store.TopicBlastProgress, string(progress)); err != nil {
		log.Printf("blast: failed to publish progress for %s: %v", payload.BlastID, err)
	}

	remaining, err := t.store.Decr(ctx, store.BlastRemainingKey(payload.BlastID))
	if err != nil {
		log.Printf("blast: failed to decrement counter for %s: %v", payload.BlastID, err)
		return
	}
	if remaining != 0 {
		return
	}

	completed, _ := json.Marshal(CompletedPayload{BlastID: payload.BlastID})
	if err := t.store.Publish(ctx, store.TopicBlastCompleted, string(completed)); err != nil {
		log.Printf("blast: failed to publish completed for %s: %v", payload.BlastID, err)
	}
	if err := t.store.Del(ctx, store.BlastRemainingKey(payload.BlastID)); err != nil {
		log.Printf("blast: failed to delete counter for %s: %v", payload.BlastID, err)
	}
	log.Printf("blast: %s completed", payload.BlastID)
}
