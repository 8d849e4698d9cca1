package session

type Status string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnecting   Status = "CONNECTING"
	StatusAwaitingQR   Status = "AWAITING_QR"
	StatusConnected    Status = "CONNECTED"
	StatusTimeout      Status = "TIMEOUT"
	StatusLoggedOut    Status = "LOGGED_OUT"
)

// normalize maps internal statuses to what the outside world sees. A logged
// out session reads as DISCONNECTED; the credential wipe is what makes the
// next connect start a fresh pairing.
func normalize(status Status) Status {
	if status == StatusLoggedOut {
		return StatusDisconnected
	}
	return status
}

type State struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// StatusPayload is published on the session status topic.
type StatusPayload struct {
	SessionID string `json:"sessionId"`
	Status    Status `json:"status"`
}

// QRPayload is published on the pairing topic.
type QRPayload struct {
	SessionID string `json:"sessionId"`
	QR        string `json:"qr"`
}

// Command arrives on the session command topic from the API process.
type Command struct {
	Command   string `json:"command"`
	SessionID string `json:"sessionId"`
}
