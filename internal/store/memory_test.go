package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryGetSetDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("got %q, %v", got, err)
	}

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("key should still be live: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryGetDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetDel(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("got %q, %v", got, err)
	}
	// The key is gone: a second take finds nothing.
	if _, err := m.GetDel(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on the second take, got %v", err)
	}

	if _, err := m.GetDel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryGetDelExpiredKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "k", "v", 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := m.GetDel(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryDecr(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "counter", "2", 0); err != nil {
		t.Fatal(err)
	}
	if n, err := m.Decr(ctx, "counter"); err != nil || n != 1 {
		t.Fatalf("got %d, %v", n, err)
	}
	if n, err := m.Decr(ctx, "counter"); err != nil || n != 0 {
		t.Fatalf("got %d, %v", n, err)
	}

	// Decrementing a missing key starts from zero, matching the Postgres
	// implementation.
	if n, err := m.Decr(ctx, "fresh"); err != nil || n != -1 {
		t.Fatalf("got %d, %v", n, err)
	}
}

func TestMemoryPubSubTopicFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory()

	messages, err := m.Subscribe(ctx, "topic-a")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Publish(ctx, "topic-b", "ignored"); err != nil {
		t.Fatal(err)
	}
	if err := m.Publish(ctx, "topic-a", "hello"); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-messages:
		if msg.Topic != "topic-a" || msg.Payload != "hello" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a message")
	}

	select {
	case msg := <-messages:
		t.Fatalf("unexpected extra message: %+v", msg)
	default:
	}
}

func TestMemorySubscribeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()

	messages, err := m.Subscribe(ctx, "topic")
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-messages:
		if ok {
			t.Fatal("expected channel close, got a message")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after cancel")
	}
}
