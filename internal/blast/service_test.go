package blast

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gowa-blast/internal/queue"
	"gowa-blast/internal/session"
	"gowa-blast/internal/store"
)

type fakeCampaigns struct {
	recipients map[string][]Recipient
}

func (f *fakeCampaigns) Recipients(ctx context.Context, id string) ([]Recipient, error) {
	recipients, ok := f.recipients[id]
	if !ok {
		return nil, errors.New("campaign not found")
	}
	return recipients, nil
}

func newTestService(t *testing.T, recipients map[string][]Recipient) (*Service, *store.Memory, *queue.Memory) {
	t.Helper()
	st := store.NewMemory()
	q := queue.NewMemory()
	svc := NewService(st, q, &fakeCampaigns{recipients: recipients})
	return svc, st, q
}

func markConnected(t *testing.T, st *store.Memory, sessionID string) {
	t.Helper()
	if err := st.Set(context.Background(), store.SessionStatusKey(sessionID), string(session.StatusConnected), 0); err != nil {
		t.Fatal(err)
	}
}

func TestInitiateBlastFansOutPerRecipient(t *testing.T) {
	ctx := context.Background()
	svc, st, q := newTestService(t, map[string][]Recipient{
		"promo": {
			{Phone: "111", Name: "Alice"},
			{Phone: "222", Name: "Bob"},
			{Phone: "111", Name: "Alice V2"}, // duplicate phone, later wins
		},
	})
	markConnected(t, st, "s1")

	events, err := st.Subscribe(ctx, store.TopicBlastStarted)
	if err != nil {
		t.Fatal(err)
	}

	result, err := svc.InitiateBlast(ctx, Request{
		SessionID:  "s1",
		Message:    "Hello {name}",
		CampaignID: "promo",
	})
	if err != nil {
		t.Fatalf("InitiateBlast: %v", err)
	}
	if result.Deferred {
		t.Fatal("campaign-only blast should not be deferred")
	}
	if result.RecipientCount != 2 {
		t.Fatalf("expected 2 recipients after dedup, got %d", result.RecipientCount)
	}

	tasks := q.Tasks(queue.TaskSendMessage)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 send tasks, got %d", len(tasks))
	}

	var first MessageTask
	if err := json.Unmarshal(tasks[0].Payload, &first); err != nil {
		t.Fatal(err)
	}
	if first.Recipient.Name != "Alice V2" {
		t.Fatalf("expected later duplicate to win, got name %q", first.Recipient.Name)
	}
	if first.Message != "Hello Alice V2" {
		t.Fatalf("expected rendered message, got %q", first.Message)
	}

	remaining, err := st.Get(ctx, store.BlastRemainingKey(result.BlastID))
	if err != nil {
		t.Fatalf("remaining counter missing: %v", err)
	}
	if remaining != "2" {
		t.Fatalf("expected counter 2, got %s", remaining)
	}

	select {
	case msg := <-events:
		var started StartedPayload
		if err := json.Unmarshal([]byte(msg.Payload), &started); err != nil {
			t.Fatal(err)
		}
		if started.BlastID != result.BlastID || started.RecipientCount != 2 {
			t.Fatalf("unexpected started payload: %+v", started)
		}
	default:
		t.Fatal("expected a started event")
	}
}

func TestInitiateBlastRejectsDisconnectedSession(t *testing.T) {
	ctx := context.Background()
	svc, st, q := newTestService(t, map[string][]Recipient{
		"promo": {{Phone: "111", Name: "Alice"}},
	})
	if err := st.Set(ctx, store.SessionStatusKey("s1"), string(session.StatusDisconnected), 0); err != nil {
		t.Fatal(err)
	}

	_, err := svc.InitiateBlast(ctx, Request{SessionID: "s1", Message: "hi", CampaignID: "promo"})
	if !errors.Is(err, ErrSessionNotConnected) {
		t.Fatalf("expected ErrSessionNotConnected, got %v", err)
	}
	if q.Pending(queue.TaskSendMessage) != 0 {
		t.Fatal("no tasks should be enqueued for a rejected blast")
	}
}

func TestInitiateBlastValidation(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, nil)
	markConnected(t, st, "s1")

	cases := []Request{
		{Message: "hi", CampaignID: "promo"},       // no session
		{SessionID: "s1", CampaignID: "promo"},     // no message
		{SessionID: "s1", Message: "hi"},           // no source
	}
	for _, req := range cases {
		if _, err := svc.InitiateBlast(ctx, req); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %+v, got %v", req, err)
		}
	}
}

func TestInitiateBlastEmptyCampaign(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, map[string][]Recipient{"empty": {}})
	markConnected(t, st, "s1")

	_, err := svc.InitiateBlast(ctx, Request{SessionID: "s1", Message: "hi", CampaignID: "empty"})
	if !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestInitiateBlastDefersSheetUpload(t *testing.T) {
	ctx := context.Background()
	svc, st, q := newTestService(t, nil)
	markConnected(t, st, "s1")

	result, err := svc.InitiateBlast(ctx, Request{
		SessionID: "s1",
		Message:   "hi",
		SheetPath: "/tmp/does-not-matter.xlsx",
	})
	if err != nil {
		t.Fatalf("InitiateBlast: %v", err)
	}
	if !result.Deferred {
		t.Fatal("sheet blast should be deferred")
	}
	if q.Pending(queue.TaskProcessFile) != 1 {
		t.Fatal("expected one process-file task")
	}
	if q.Pending(queue.TaskSendMessage) != 0 {
		t.Fatal("no send tasks before the sheet is processed")
	}
	// The counter only exists once fan-out actually happens.
	if _, err := st.Get(ctx, store.BlastRemainingKey(result.BlastID)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no counter yet, got %v", err)
	}
}

func TestProcessFileTaskMergesCampaignAndSheet(t *testing.T) {
	ctx := context.Background()
	svc, st, q := newTestService(t, map[string][]Recipient{
		"promo": {
			{Phone: "111", Name: "Alice"},
			{Phone: "222", Name: "Bob"},
		},
	})
	markConnected(t, st, "s1")

	sheetPath := filepath.Join(t.TempDir(), "recipients.xlsx")
	buf := buildSheet(t, [][]interface{}{
		{"phone", "name"},
		{"111", "Alice from sheet"},
		{"333", "Charlie"},
	})
	if err := os.WriteFile(sheetPath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(FileTask{
		BlastID:    "b1",
		SessionID:  "s1",
		Message:    "Hello {name}",
		SheetPath:  sheetPath,
		CampaignID: "promo",
	})
	err := svc.ProcessFileTask(ctx, queue.Task{ID: "f1", Type: queue.TaskProcessFile, Payload: payload})
	if err != nil {
		t.Fatalf("ProcessFileTask: %v", err)
	}

	tasks := q.Tasks(queue.TaskSendMessage)
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks after merge, got %d", len(tasks))
	}

	names := map[string]string{}
	for _, task := range tasks {
		var mt MessageTask
		if err := json.Unmarshal(task.Payload, &mt); err != nil {
			t.Fatal(err)
		}
		names[mt.Recipient.Phone] = mt.Recipient.Name
	}
	// On a phone collision the sheet row wins.
	if names["111"] != "Alice from sheet" {
		t.Fatalf("expected sheet to win the collision, got %q", names["111"])
	}

	remaining, err := st.Get(ctx, store.BlastRemainingKey("b1"))
	if err != nil || remaining != "3" {
		t.Fatalf("counter = %q, %v", remaining, err)
	}

	// The stored sheet is cleaned up after processing.
	if _, err := os.Stat(sheetPath); !os.IsNotExist(err) {
		t.Fatalf("expected sheet to be removed, got %v", err)
	}
}

func TestRenderMessage(t *testing.T) {
	r := Recipient{Phone: "111", Name: "Alice"}
	if got := RenderMessage("Hello {name}!", r); got != "Hello Alice!" {
		t.Fatalf("got %q", got)
	}
	// Only the first placeholder is substituted.
	if got := RenderMessage("{name} {name}", r); got != "Alice {name}" {
		t.Fatalf("got %q", got)
	}
	if got := RenderMessage("no placeholder", r); got != "no placeholder" {
		t.Fatalf("got %q", got)
	}
}
