package blast

import (
	"errors"
	"strings"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNoRecipients        = errors.New("no recipients found")
	ErrSessionNotConnected = errors.New("session is not connected")
)

type Recipient struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// MediaRef points at a stored upload; task payloads carry the reference, not
// the bytes.
type MediaRef struct {
	Path     string `json:"path"`
	Mimetype string `json:"mimetype"`
	Filename string `json:"filename"`
}

// MessageTask is the payload of one send-message task.
type MessageTask struct {
	BlastID   string    `json:"blastId"`
	SessionID string    `json:"sessionId"`
	Recipient Recipient `json:"recipient"`
	Message   string    `json:"message"`
	Media     *MediaRef `json:"media,omitempty"`
}

// FileTask is the payload of one process-file task: the deferred half of a
// sheet-upload blast.
type FileTask struct {
	BlastID    string    `json:"blastId"`
	SessionID  string    `json:"sessionId"`
	Message    string    `json:"message"`
	SheetPath  string    `json:"sheetPath"`
	CampaignID string    `json:"campaignId,omitempty"`
	Media      *MediaRef `json:"media,omitempty"`
}

type StartedPayload struct {
	BlastID        string `json:"blastId"`
	RecipientCount int    `json:"recipientCount"`
}

type ProgressPayload struct {
	BlastID   string    `json:"blastId"`
	Status    string    `json:"status"` // SENT or FAILED
	Recipient Recipient `json:"recipient"`
}

type CompletedPayload struct {
	BlastID string `json:"blastId"`
}

// RenderMessage substitutes the first {name} placeholder.
func RenderMessage(template string, r Recipient) string {
	return strings.Replace(template, "{name}", r.Name, 1)
}
