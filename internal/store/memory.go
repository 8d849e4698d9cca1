package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

type memSubscriber struct {
	topics map[string]bool
	ch     chan Message
}

// Memory is an in-process Store used by tests and single-binary runs.
type Memory struct {
	mu   sync.Mutex
	data map[string]memEntry
	subs map[*memSubscriber]bool
}

func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]memEntry),
		subs: make(map[*memSubscriber]bool),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.data, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.data[key] = entry
	return nil
}

func (m *Memory) Decr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := int64(0)
	if entry, ok := m.data[key]; ok {
		n, err := strconv.ParseInt(entry.value, 10, 64)
		if err != nil {
			return 0, err
		}
		current = n
	}
	current--
	m.data[key] = memEntry{value: strconv.FormatInt(current, 10)}
	return current, nil
}

func (m *Memory) GetDel(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	delete(m.data, key)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Publish(ctx context.Context, topic, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subs {
		if !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- Message{Topic: topic, Payload: payload}:
		default:
			// subscriber not keeping up, drop rather than block the publisher
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topics ...string) (<-chan Message, error) {
	sub := &memSubscriber{
		topics: make(map[string]bool, len(topics)),
		ch:     make(chan Message, 256),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	m.mu.Lock()
	m.subs[sub] = true
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}
