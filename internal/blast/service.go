package blast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/google/uuid"

	"gowa-blast/internal/queue"
	"gowa-blast/internal/session"
	"gowa-blast/internal/store"
)

// CampaignSource resolves a named campaign into its recipients.
type CampaignSource interface {
	Recipients(ctx context.Context, campaignID string) ([]Recipient, error)
}

type Request struct {
	SessionID  string
	Message    string
	CampaignID string
	// SheetPath set means the upload was stored and resolution is deferred.
	SheetPath string
	Media     *MediaRef
}

type Result struct {
	BlastID        string
	RecipientCount int
	Deferred       bool
}

// Service is the fan-out half of the tracker: it turns one blast request
// into per-recipient delivery tasks.
type Service struct {
	store     store.Store
	queue     queue.Queue
	campaigns CampaignSource
}

func NewService(st store.Store, q queue.Queue, campaigns CampaignSource) *Service {
	return &Service{store: st, queue: q, campaigns: campaigns}
}

// InitiateBlast validates the request, then either fans out synchronously
// (campaign source) or defers to a process-file task (sheet upload).
func (s *Service) InitiateBlast(ctx context.Context, req Request) (*Result, error) {
	if req.SessionID == "" || req.Message == "" {
		return nil, fmt.Errorf("%w: sessionId and message are required", ErrValidation)
	}
	if req.CampaignID == "" && req.SheetPath == "" {
		return nil, fmt.Errorf("%w: a campaignId or a recipient sheet is required", ErrValidation)
	}

	status, err := s.store.Get(ctx, store.SessionStatusKey(req.SessionID))
	if err != nil || status != string(session.StatusConnected) {
		return nil, fmt.Errorf("%w: session %s", ErrSessionNotConnected, req.SessionID)
	}

	blastID := uuid.NewString()

	if req.SheetPath != "" {
		task := FileTask{
			BlastID:    blastID,
			SessionID:  req.SessionID,
			Message:    req.Message,
			SheetPath:  req.SheetPath,
			CampaignID: req.CampaignID,
			Media:      req.Media,
		}
		if _, err := s.queue.Enqueue(ctx, queue.TaskProcessFile, task); err != nil {
			return nil, fmt.Errorf("enqueue file task: %w", err)
		}
		log.Printf("blast: %s deferred to file processing", blastID)
		return &Result{BlastID: blastID, Deferred: true}, nil
	}

	recipients, err := s.campaigns.Recipients(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	count, err := s.fanOut(ctx, blastID, req.SessionID, req.Message, MergeRecipients(recipients), req.Media)
	if err != nil {
		return nil, err
	}
	return &Result{BlastID: blastID, RecipientCount: count}, nil
}

// ProcessFileTask is the queue handler for the deferred path: resolve the
// sheet (and optional campaign), then fan out. The stored sheet is removed
// whether or not the blast could start.
func (s *Service) ProcessFileTask(ctx context.Context, task queue.Task) error {
	var payload FileTask
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("bad file task payload: %w", err)
	}
	defer func() {
		if err := os.Remove(payload.SheetPath); err != nil && !os.IsNotExist(err) {
			log.Printf("blast: failed to remove sheet %s: %v", payload.SheetPath, err)
		}
	}()

	var sources [][]Recipient
	if payload.CampaignID != "" {
		campaignRecipients, err := s.campaigns.Recipients(ctx, payload.CampaignID)
		if err != nil {
			return err
		}
		sources = append(sources, campaignRecipients)
	}

	f, err := os.Open(payload.SheetPath)
	if err != nil {
		return fmt.Errorf("open sheet: %w", err)
	}
	sheetRecipients, err := ParseSheet(f)
	f.Close()
	if err != nil {
		return err
	}
	// Sheet is the later source: on a phone collision its row wins.
	sources = append(sources, sheetRecipients)

	_, err = s.fanOut(ctx, payload.BlastID, payload.SessionID, payload.Message, MergeRecipients(sources...), payload.Media)
	return err
}

func (s *Service) fanOut(ctx context.Context, blastID, sessionID, message string, recipients []Recipient, media *MediaRef) (int, error) {
	if len(recipients) == 0 {
		return 0, ErrNoRecipients
	}

	// The counter exists before the first task does, so an early completion
	// can never decrement a missing key.
	remainingKey := store.BlastRemainingKey(blastID)
	if err := s.store.Set(ctx, remainingKey, strconv.Itoa(len(recipients)), 0); err != nil {
		return 0, fmt.Errorf("init remaining counter: %w", err)
	}

	for _, recipient := range recipients {
		task := MessageTask{
			BlastID:   blastID,
			SessionID: sessionID,
			Recipient: recipient,
			Message:   RenderMessage(message, recipient),
			Media:     media,
		}
		if _, err := s.queue.Enqueue(ctx, queue.TaskSendMessage, task); err != nil {
			return 0, fmt.Errorf("enqueue message task: %w", err)
		}
	}

	started, _ := json.Marshal(StartedPayload{BlastID: blastID, RecipientCount: len(recipients)})
	if err := s.store.Publish(ctx, store.TopicBlastStarted, string(started)); err != nil {
		log.Printf("blast: failed to publish started event for %s: %v", blastID, err)
	}

	log.Printf("blast: %s enqueued %d delivery tasks for session %s", blastID, len(recipients), sessionID)
	return len(recipients), nil
}
