package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"gowa-blast/internal/store"
	"gowa-blast/internal/transport"
)

type fakeHandle struct {
	id     string
	events chan transport.Event

	mu          sync.Mutex
	loggedOut   bool
	wiped       bool
	closed      bool
	connectErr  error
	connectCall int
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id, events: make(chan transport.Event, 16)}
}

func (h *fakeHandle) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectCall++
	return h.connectErr
}

func (h *fakeHandle) SendText(ctx context.Context, phone, text string) error { return nil }

func (h *fakeHandle) SendMedia(ctx context.Context, phone string, media transport.Media) error {
	return nil
}

func (h *fakeHandle) Logout(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loggedOut = true
	return nil
}

func (h *fakeHandle) WipeCredentials(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wiped = true
	return nil
}

func (h *fakeHandle) Events() <-chan transport.Event { return h.events }

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *fakeHandle) emit(evt transport.Event) { h.events <- evt }

type fakeFactory struct {
	mu      sync.Mutex
	handles []*fakeHandle
}

func (f *fakeFactory) NewHandle(sessionID string) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := newFakeHandle(sessionID)
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeFactory) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.handles) {
		return nil
	}
	return f.handles[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func collectStatuses(t *testing.T, st *store.Memory, ctx context.Context) <-chan store.Message {
	t.Helper()
	messages, err := st.Subscribe(ctx, store.TopicSessionStatus)
	if err != nil {
		t.Fatal(err)
	}
	return messages
}

func nextStatus(t *testing.T, messages <-chan store.Message) StatusPayload {
	t.Helper()
	select {
	case msg := <-messages:
		var payload StatusPayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			t.Fatal(err)
		}
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a status event")
		return StatusPayload{}
	}
}

func TestConnectFlowPublishesStatusSequence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	factory := &fakeFactory{}
	m := NewManager(factory, st, 10*time.Millisecond)

	messages := collectStatuses(t, st, ctx)
	m.Start(ctx, []string{"s1"})

	if got := nextStatus(t, messages); got.Status != StatusConnecting {
		t.Fatalf("expected CONNECTING first, got %s", got.Status)
	}

	h := factory.handle(0)
	h.emit(transport.Event{Kind: transport.EventPairingCode, PairingCode: "qr-1"})
	if got := nextStatus(t, messages); got.Status != StatusAwaitingQR {
		t.Fatalf("expected AWAITING_QR, got %s", got.Status)
	}

	h.emit(transport.Event{Kind: transport.EventOpen, JID: "123@s.whatsapp.net"})
	if got := nextStatus(t, messages); got.Status != StatusConnected {
		t.Fatalf("expected CONNECTED, got %s", got.Status)
	}

	// The stored status tracks the published one.
	stored, err := st.Get(ctx, store.SessionStatusKey("s1"))
	if err != nil {
		t.Fatal(err)
	}
	if stored != string(StatusConnected) {
		t.Fatalf("stored status %s", stored)
	}
}

func TestTimeoutTriggersReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	factory := &fakeFactory{}
	m := NewManager(factory, st, 10*time.Millisecond)

	messages := collectStatuses(t, st, ctx)
	m.Start(ctx, []string{"s1"})
	nextStatus(t, messages) // CONNECTING

	h := factory.handle(0)
	h.emit(transport.Event{Kind: transport.EventOpen})
	nextStatus(t, messages) // CONNECTED

	h.emit(transport.Event{Kind: transport.EventClosed, Reason: transport.ReasonTimeout})
	if got := nextStatus(t, messages); got.Status != StatusTimeout {
		t.Fatalf("expected TIMEOUT, got %s", got.Status)
	}

	// Reconnect replaces the handle and goes through CONNECTING again.
	if got := nextStatus(t, messages); got.Status != StatusConnecting {
		t.Fatalf("expected CONNECTING after reconnect, got %s", got.Status)
	}
	if factory.count() != 2 {
		t.Fatalf("expected a second handle, got %d", factory.count())
	}
}

func TestDuplicateCloseSchedulesOneReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	factory := &fakeFactory{}
	m := NewManager(factory, st, 20*time.Millisecond)

	m.Start(ctx, []string{"s1"})
	h := factory.handle(0)
	h.emit(transport.Event{Kind: transport.EventClosed, Reason: transport.ReasonConnectionLost})
	h.emit(transport.Event{Kind: transport.EventClosed, Reason: transport.ReasonConnectionLost})

	time.Sleep(100 * time.Millisecond)
	if got := factory.count(); got != 2 {
		t.Fatalf("expected exactly one reconnect, got %d handles", got)
	}
}

func TestLogoutWipesCredentialsAndStopsReconnecting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	factory := &fakeFactory{}
	m := NewManager(factory, st, 10*time.Millisecond)

	messages := collectStatuses(t, st, ctx)
	m.Start(ctx, []string{"s1"})
	nextStatus(t, messages) // CONNECTING

	h := factory.handle(0)
	h.emit(transport.Event{Kind: transport.EventOpen})
	nextStatus(t, messages) // CONNECTED

	m.LogoutSession("s1")

	// Logged out reads as DISCONNECTED from the outside.
	if got := nextStatus(t, messages); got.Status != StatusDisconnected {
		t.Fatalf("expected DISCONNECTED after logout, got %s", got.Status)
	}

	h.mu.Lock()
	loggedOut, wiped := h.loggedOut, h.wiped
	h.mu.Unlock()
	if !loggedOut {
		t.Fatal("expected Logout to be called on the handle")
	}
	if !wiped {
		t.Fatal("expected credentials to be wiped")
	}

	// No reconnect: the session is gone from the registry.
	time.Sleep(50 * time.Millisecond)
	if factory.count() != 1 {
		t.Fatalf("logged out session must not reconnect, got %d handles", factory.count())
	}
	if _, _, ok := m.GetSession("s1"); ok {
		t.Fatal("expected session to be removed after logout")
	}
}

func TestLogoutDuringReconnectWindowIsTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	factory := &fakeFactory{}
	m := NewManager(factory, st, 100*time.Millisecond)

	messages := collectStatuses(t, st, ctx)
	m.Start(ctx, []string{"s1"})
	nextStatus(t, messages) // CONNECTING

	h := factory.handle(0)
	h.emit(transport.Event{Kind: transport.EventOpen})
	nextStatus(t, messages) // CONNECTED

	// Non-terminal close schedules a reconnect 100ms out.
	h.emit(transport.Event{Kind: transport.EventClosed, Reason: transport.ReasonTimeout})
	if got := nextStatus(t, messages); got.Status != StatusTimeout {
		t.Fatalf("expected TIMEOUT, got %s", got.Status)
	}

	// Logout lands inside the window, before the reconnect fires.
	m.LogoutSession("s1")
	if got := nextStatus(t, messages); got.Status != StatusDisconnected {
		t.Fatalf("expected DISCONNECTED after logout, got %s", got.Status)
	}

	h.mu.Lock()
	wiped := h.wiped
	h.mu.Unlock()
	if !wiped {
		t.Fatal("expected credentials to be wiped for a logout in the reconnect window")
	}
	if _, _, ok := m.GetSession("s1"); ok {
		t.Fatal("expected session to be removed")
	}

	// Let the scheduled reconnect fire: it must find no registration and
	// give up instead of re-pairing with the old credentials.
	time.Sleep(200 * time.Millisecond)
	if factory.count() != 1 {
		t.Fatalf("logged out session must not reconnect, got %d handles", factory.count())
	}
	if _, _, ok := m.GetSession("s1"); ok {
		t.Fatal("session reappeared after the reconnect window")
	}
}

func TestGetSessionsStateNormalizesAndSorts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	factory := &fakeFactory{}
	m := NewManager(factory, st, 10*time.Millisecond)
	m.Start(ctx, []string{"s2", "s1"})

	states := m.GetSessionsState()
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	if states[0].ID != "s1" || states[1].ID != "s2" {
		t.Fatalf("expected sorted ids, got %+v", states)
	}
}

func TestCommandListenerConnectsAndLogsOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	factory := &fakeFactory{}
	m := NewManager(factory, st, 10*time.Millisecond)
	m.Start(ctx, nil)
	if err := m.RunCommandListener(ctx); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(Command{Command: "connect", SessionID: "s1"})
	if err := st.Publish(ctx, store.TopicSessionCommand, string(payload)); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, _, ok := m.GetSession("s1"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("connect command was not applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	payload, _ = json.Marshal(Command{Command: "logout", SessionID: "s1"})
	if err := st.Publish(ctx, store.TopicSessionCommand, string(payload)); err != nil {
		t.Fatal(err)
	}

	deadline = time.After(2 * time.Second)
	for {
		if _, _, ok := m.GetSession("s1"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("logout command was not applied")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
