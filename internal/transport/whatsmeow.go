package transport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"gowa-blast/internal/helper"
)

// WhatsmeowFactory builds whatsmeow-backed handles. Devices are keyed by JID
// in the whatsmeow container, so a small mapping table ties session ids to
// their paired device across restarts.
type WhatsmeowFactory struct {
	container *sqlstore.Container
	db        *sql.DB
}

func NewWhatsmeowFactory(container *sqlstore.Container, db *sql.DB) (*WhatsmeowFactory, error) {
	schema := `
        CREATE TABLE IF NOT EXISTS wa_devices (
            session_id VARCHAR(255) PRIMARY KEY,
            jid        VARCHAR(255) NOT NULL
        );
    `
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &WhatsmeowFactory{container: container, db: db}, nil
}

func (f *WhatsmeowFactory) NewHandle(sessionID string) (Handle, error) {
	device, err := f.deviceFor(sessionID)
	if err != nil {
		return nil, err
	}

	clientLog := waLog.Stdout("Client-"+sessionID, "INFO", true)
	client := whatsmeow.NewClient(device, clientLog)
	// Reconnects are decided by the session manager, not by the library.
	client.EnableAutoReconnect = false

	h := &waHandle{
		factory:   f,
		sessionID: sessionID,
		client:    client,
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
	}
	client.AddEventHandler(h.onEvent)
	return h, nil
}

func (f *WhatsmeowFactory) deviceFor(sessionID string) (*store.Device, error) {
	ctx := context.Background()

	var jid string
	err := f.db.QueryRow(`SELECT jid FROM wa_devices WHERE session_id = $1`, sessionID).Scan(&jid)
	if err == nil {
		parsed, parseErr := types.ParseJID(jid)
		if parseErr == nil {
			device, getErr := f.container.GetDevice(ctx, parsed)
			if getErr == nil && device != nil {
				return device, nil
			}
		}
		// Stale mapping, fall through to a fresh device.
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	store.DeviceProps.Os = proto.String("GOWA Blast")
	return f.container.NewDevice(), nil
}

func (f *WhatsmeowFactory) saveMapping(sessionID, jid string) {
	_, err := f.db.Exec(`
        INSERT INTO wa_devices (session_id, jid) VALUES ($1, $2)
        ON CONFLICT (session_id) DO UPDATE SET jid = EXCLUDED.jid
    `, sessionID, jid)
	if err != nil {
		log.Printf("transport: failed to save device mapping for %s: %v", sessionID, err)
	}
}

func (f *WhatsmeowFactory) dropMapping(sessionID string) {
	if _, err := f.db.Exec(`DELETE FROM wa_devices WHERE session_id = $1`, sessionID); err != nil {
		log.Printf("transport: failed to drop device mapping for %s: %v", sessionID, err)
	}
}

type waHandle struct {
	factory   *WhatsmeowFactory
	sessionID string
	client    *whatsmeow.Client
	events    chan Event
	done      chan struct{}
}

func (h *waHandle) Connect(ctx context.Context) error {
	if h.client.Store.ID == nil {
		// Not paired yet: the QR channel must be requested before Connect.
		qrChan, err := h.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get QR channel: %w", err)
		}
		go h.pumpQR(qrChan)
	}
	if err := h.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (h *waHandle) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			h.emit(Event{Kind: EventPairingCode, PairingCode: item.Code})
		case "timeout":
			h.emit(Event{Kind: EventClosed, Reason: ReasonTimeout})
			return
		case "success":
			return
		}
	}
}

func (h *waHandle) onEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		jid := ""
		if h.client.Store.ID != nil {
			jid = h.client.Store.ID.String()
			h.factory.saveMapping(h.sessionID, jid)
		}
		h.emit(Event{Kind: EventOpen, JID: jid})

	case *events.PairSuccess:
		h.factory.saveMapping(h.sessionID, e.ID.String())

	case *events.LoggedOut:
		h.emit(Event{Kind: EventClosed, Reason: ReasonLoggedOut})

	case *events.StreamReplaced:
		h.emit(Event{Kind: EventClosed, Reason: ReasonRestartRequired})

	case *events.KeepAliveTimeout:
		h.emit(Event{Kind: EventClosed, Reason: ReasonTimeout})

	case *events.Disconnected:
		h.emit(Event{Kind: EventClosed, Reason: ReasonConnectionLost})

	case *events.ConnectFailure:
		h.emit(Event{Kind: EventClosed, Reason: ReasonUnknown})
	}
}

func (h *waHandle) emit(evt Event) {
	select {
	case <-h.done:
	case h.events <- evt:
	default:
		log.Printf("transport: event buffer full for session %s, dropping %v", h.sessionID, evt.Kind)
	}
}

func (h *waHandle) SendText(ctx context.Context, phone, text string) error {
	jid, err := h.recipientJID(phone)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	_, err = h.client.SendMessage(ctx, jid, msg)
	return err
}

func (h *waHandle) SendMedia(ctx context.Context, phone string, media Media) error {
	jid, err := h.recipientJID(phone)
	if err != nil {
		return err
	}

	data := media.Data
	if strings.HasPrefix(media.Mimetype, "image/") {
		// Oversized images get downscaled before hitting the network.
		if resized, err := helper.NormalizeImage(data, media.Mimetype); err == nil {
			data = resized
		}
	}

	var mediaType whatsmeow.MediaType
	switch {
	case strings.HasPrefix(media.Mimetype, "image/"):
		mediaType = whatsmeow.MediaImage
	case strings.HasPrefix(media.Mimetype, "video/"):
		mediaType = whatsmeow.MediaVideo
	case strings.HasPrefix(media.Mimetype, "audio/"):
		mediaType = whatsmeow.MediaAudio
	default:
		mediaType = whatsmeow.MediaDocument
	}

	uploaded, err := h.client.Upload(ctx, data, mediaType)
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}

	msg := &waE2E.Message{}
	switch mediaType {
	case whatsmeow.MediaImage:
		msg.ImageMessage = &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.Mimetype),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
	case whatsmeow.MediaVideo:
		msg.VideoMessage = &waE2E.VideoMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.Mimetype),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
	case whatsmeow.MediaAudio:
		// Audio never carries a caption.
		msg.AudioMessage = &waE2E.AudioMessage{
			Mimetype:      proto.String(media.Mimetype),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
	default:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Caption:       proto.String(media.Caption),
			FileName:      proto.String(media.Filename),
			Mimetype:      proto.String(media.Mimetype),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
	}

	_, err = h.client.SendMessage(ctx, jid, msg)
	return err
}

func (h *waHandle) recipientJID(phone string) (types.JID, error) {
	normalized, err := helper.NormalizePhone(phone)
	if err != nil {
		return types.JID{}, err
	}
	return types.JID{User: normalized, Server: types.DefaultUserServer}, nil
}

func (h *waHandle) Logout(ctx context.Context) error {
	return h.client.Logout(ctx)
}

func (h *waHandle) WipeCredentials(ctx context.Context) error {
	h.factory.dropMapping(h.sessionID)
	if h.client.Store != nil && h.client.Store.ID != nil {
		return h.factory.container.DeleteDevice(ctx, h.client.Store)
	}
	return nil
}

func (h *waHandle) Events() <-chan Event {
	return h.events
}

func (h *waHandle) Close() {
	select {
	case <-h.done:
		return
	default:
	}
	close(h.done)
	h.client.Disconnect()
}
