package session

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"gowa-blast/internal/store"
	"gowa-blast/internal/transport"
)

type managed struct {
	id     string
	handle transport.Handle
	status Status
	// set once the current handle is torn down, so a duplicate close event
	// cannot schedule a second reconnect
	closed     bool
	loggingOut bool
	cancel     context.CancelFunc
}

// Manager owns every live transport handle, one per session id. All state
// transitions go through applyClose/setStatus; nothing infers status from
// the underlying connection object.
type Manager struct {
	factory        transport.Factory
	store          store.Store
	reconnectDelay time.Duration

	mu       sync.Mutex
	sessions map[string]*managed
	ctx      context.Context
}

func NewManager(factory transport.Factory, st store.Store, reconnectDelay time.Duration) *Manager {
	return &Manager{
		factory:        factory,
		store:          st,
		reconnectDelay: reconnectDelay,
		sessions:       make(map[string]*managed),
		ctx:            context.Background(),
	}
}

// Start brings up the configured sessions and pins the manager lifetime to ctx.
func (m *Manager) Start(ctx context.Context, sessionIDs []string) {
	m.ctx = ctx
	for _, id := range sessionIDs {
		if err := m.CreateSession(id, false); err != nil {
			log.Printf("session: failed to create session %s: %v", id, err)
		}
	}
}

// CreateSession opens a new handle for the session. With force it replaces a
// live handle; without, an existing session is left untouched.
func (m *Manager) CreateSession(id string, force bool) error {
	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		if !force {
			m.mu.Unlock()
			return nil
		}
		existing.cancel()
		existing.handle.Close()
		delete(m.sessions, id)
	}

	handle, err := m.factory.NewHandle(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(m.ctx)
	sess := &managed{id: id, handle: handle, status: StatusConnecting, cancel: cancel}
	m.sessions[id] = sess
	m.mu.Unlock()

	m.publishStatus(id, StatusConnecting)

	go m.eventLoop(loopCtx, sess)
	go func() {
		if err := handle.Connect(loopCtx); err != nil {
			log.Printf("session: connect failed for %s: %v", id, err)
			m.applyClose(sess, transport.ReasonConnectionLost)
		}
	}()
	return nil
}

// GetSession returns the live handle and its status, when one is registered.
func (m *Manager) GetSession(id string) (transport.Handle, Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, StatusDisconnected, false
	}
	return sess.handle, sess.status, true
}

// GetSessionsState reads in-process truth, not the shared store.
func (m *Manager) GetSessionsState() []State {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]State, 0, len(m.sessions))
	for _, sess := range m.sessions {
		states = append(states, State{ID: sess.id, Status: normalize(sess.status)})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states
}

// LogoutSession unlinks the session. A missing session is logged, not an error.
func (m *Manager) LogoutSession(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		log.Printf("session: logout requested for unknown session %s", id)
		return
	}
	sess.loggingOut = true
	m.mu.Unlock()

	if err := sess.handle.Logout(m.ctx); err != nil {
		log.Printf("session: logout call failed for %s: %v", id, err)
	}
	// Terminal teardown regardless: wipe credentials so the next connect
	// starts a fresh pairing, and never reconnect.
	m.applyClose(sess, transport.ReasonLoggedOut)
}

// Shutdown closes every live handle without touching stored status.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		sess.cancel()
		sess.handle.Close()
		delete(m.sessions, id)
	}
}

func (m *Manager) eventLoop(ctx context.Context, sess *managed) {
	events := sess.handle.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(sess, evt)
		}
	}
}

func (m *Manager) handleEvent(sess *managed, evt transport.Event) {
	switch evt.Kind {
	case transport.EventPairingCode:
		m.mu.Lock()
		sess.status = StatusAwaitingQR
		m.mu.Unlock()

		m.publishStatus(sess.id, StatusAwaitingQR)
		m.publishQR(sess.id, evt.PairingCode)

	case transport.EventOpen:
		m.mu.Lock()
		sess.status = StatusConnected
		sess.closed = false
		m.mu.Unlock()

		log.Printf("session: %s connected (%s)", sess.id, evt.JID)
		m.publishStatus(sess.id, StatusConnected)

	case transport.EventClosed:
		m.applyClose(sess, evt.Reason)
	}
}

// applyClose is the single reconnect-vs-terminal decision point.
func (m *Manager) applyClose(sess *managed, reason transport.CloseReason) {
	m.mu.Lock()
	terminal := reason == transport.ReasonLoggedOut || sess.loggingOut
	if sess.closed {
		// A duplicate non-terminal close is a no-op. A terminal close must
		// still tear down a session that is waiting out the reconnect delay,
		// as long as this handle is the registered one.
		if !terminal || m.sessions[sess.id] != sess {
			m.mu.Unlock()
			return
		}
	}
	sess.closed = true

	var status Status
	switch {
	case terminal:
		status = StatusLoggedOut
	case reason == transport.ReasonTimeout, reason == transport.ReasonConnectionLost:
		status = StatusTimeout
	case reason == transport.ReasonRestartRequired:
		status = StatusConnecting
	default:
		status = StatusDisconnected
	}
	sess.status = status

	if terminal {
		sess.cancel()
		delete(m.sessions, sess.id)
	}
	m.mu.Unlock()

	log.Printf("session: %s closed, reason=%s, reconnecting=%v", sess.id, reason, !terminal)

	if terminal {
		if err := sess.handle.WipeCredentials(m.ctx); err != nil {
			log.Printf("session: failed to wipe credentials for %s: %v", sess.id, err)
		}
		sess.handle.Close()
		m.publishStatus(sess.id, StatusLoggedOut)
		return
	}

	sess.handle.Close()
	m.publishStatus(sess.id, status)
	m.scheduleReconnect(sess.id)
}

// scheduleReconnect retries after a fixed delay. The registration check runs
// at fire time, so an explicitly removed session never reconnects.
func (m *Manager) scheduleReconnect(id string) {
	time.AfterFunc(m.reconnectDelay, func() {
		if m.ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		_, stillRegistered := m.sessions[id]
		m.mu.Unlock()
		if !stillRegistered {
			return
		}
		if err := m.CreateSession(id, true); err != nil {
			log.Printf("session: reconnect failed for %s: %v", id, err)
			m.scheduleReconnect(id)
		}
	})
}

// RunCommandListener consumes connect/logout commands published by the API
// process and applies them to this manager.
func (m *Manager) RunCommandListener(ctx context.Context) error {
	messages, err := m.store.Subscribe(ctx, store.TopicSessionCommand)
	if err != nil {
		return err
	}
	log.Println("session: subscribed to", store.TopicSessionCommand)

	go func() {
		for msg := range messages {
			var cmd Command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				log.Printf("session: bad command payload: %v", err)
				continue
			}
			switch cmd.Command {
			case "connect":
				if err := m.CreateSession(cmd.SessionID, true); err != nil {
					log.Printf("session: connect command failed for %s: %v", cmd.SessionID, err)
				}
			case "logout":
				m.LogoutSession(cmd.SessionID)
			default:
				log.Printf("session: unknown command %q for %s", cmd.Command, cmd.SessionID)
			}
		}
	}()
	return nil
}

// Every transition funnels through these two: store write first, then the
// status topic, so "state changed" and "event observable" stay in step.

func (m *Manager) publishStatus(id string, status Status) {
	external := normalize(status)
	if err := m.store.Set(m.ctx, store.SessionStatusKey(id), string(external), 0); err != nil {
		log.Printf("session: failed to store status for %s: %v", id, err)
	}
	payload, _ := json.Marshal(StatusPayload{SessionID: id, Status: external})
	if err := m.store.Publish(m.ctx, store.TopicSessionStatus, string(payload)); err != nil {
		log.Printf("session: failed to publish status for %s: %v", id, err)
	}
}

func (m *Manager) publishQR(id, code string) {
	payload, _ := json.Marshal(QRPayload{SessionID: id, QR: code})
	if err := m.store.Publish(m.ctx, store.TopicQRUpdate, string(payload)); err != nil {
		log.Printf("session: failed to publish QR for %s: %v", id, err)
	}
}
