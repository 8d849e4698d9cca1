package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"gowa-blast/internal/store"
)

const ticketExpiry = 30 * time.Second

var ErrInvalidTicket = errors.New("ticket invalid or expired")

// TicketManager issues single-use tokens that bind one observer connection
// to one blast id, so the blast id never travels as a bare credential in a
// connection URL.
type TicketManager struct {
	store store.Store
}

func NewTicketManager(st store.Store) *TicketManager {
	return &TicketManager{store: st}
}

func (t *TicketManager) CreateTicket(ctx context.Context, blastID string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	if err := t.store.Set(ctx, store.TicketKey(token), blastID, ticketExpiry); err != nil {
		return "", err
	}
	return token, nil
}

// RedeemTicket resolves and deletes the token atomically; of two concurrent
// redemptions at most one sees the blast id, the other fails as if the token
// never existed.
func (t *TicketManager) RedeemTicket(ctx context.Context, token string) (string, error) {
	blastID, err := t.store.GetDel(ctx, store.TicketKey(token))
	if err != nil {
		return "", ErrInvalidTicket
	}
	return blastID, nil
}
