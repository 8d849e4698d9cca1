package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("key not found")

// Message is one pub/sub delivery.
type Message struct {
	Topic   string
	Payload string
}

// Store is the shared key-value + pub/sub capability. Counters are mutated
// only through Decr; a get+set pair on a counter key is never allowed.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Decr(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, key string) error
	// GetDel reads and deletes the key in one step, so two callers racing on
	// the same key can never both see the value.
	GetDel(ctx context.Context, key string) (string, error)
	Publish(ctx context.Context, topic, payload string) error
	Subscribe(ctx context.Context, topics ...string) (<-chan Message, error)
}

// Topic and key names shared by both processes.
const (
	TopicSessionStatus  = "session:status"
	TopicQRUpdate       = "qr:update"
	TopicSessionCommand = "session:command"
	TopicBlastStarted   = "blast:started"
	TopicBlastProgress  = "blast:progress"
	TopicBlastCompleted = "blast:completed"
)

func SessionStatusKey(sessionID string) string {
	return "session:" + sessionID + ":status"
}

func BlastRemainingKey(blastID string) string {
	return "blast:" + blastID + ":remaining"
}

func TicketKey(token string) string {
	return "ws-ticket:" + token
}

func CampaignRecipientsKey(campaignID string) string {
	return "campaign:" + campaignID + ":recipients"
}
