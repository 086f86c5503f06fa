package journal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/waproxy/internal/event"
)

func openTestJournal(t *testing.T, maxEvents int) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "data", "events.db"), maxEvents)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := openTestJournal(t, 0)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, typ := range []string{"bridge.started", "auth.qr_ready", "auth.authenticated"} {
		_, err := j.Record(ctx, Entry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Type:      typ,
			Details:   json.RawMessage(`{"n":` + string(rune('0'+i)) + `}`),
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("Recent() returned %d entries, want 3", len(entries))
	}
	if entries[0].Type != "auth.authenticated" || entries[2].Type != "bridge.started" {
		t.Errorf("entries not newest first: %v, %v", entries[0].Type, entries[2].Type)
	}
	if !entries[0].Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("Timestamp = %v", entries[0].Timestamp)
	}
	if string(entries[0].Details) != `{"n":2}` {
		t.Errorf("Details = %s", entries[0].Details)
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Error("entries should get unique IDs")
	}

	limited, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("Recent(2) returned %d entries", len(limited))
	}
}

func TestJournal_RecordDefaults(t *testing.T) {
	j := openTestJournal(t, 0)

	e, err := j.Record(context.Background(), Entry{Type: "status.reset"})
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Errorf("Record() should fill ID and timestamp: %+v", e)
	}

	entries, err := j.Recent(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Details != nil {
		t.Errorf("entries = %+v", entries)
	}
}

func TestJournal_Prune(t *testing.T) {
	j := openTestJournal(t, 3)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		if _, err := j.Record(ctx, Entry{Timestamp: base.Add(time.Duration(i) * time.Millisecond), Type: "tool.called"}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := j.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}

	entries, _ := j.Recent(ctx, 10)
	oldest := entries[len(entries)-1].Timestamp
	if !oldest.Equal(base.Add(2 * time.Millisecond)) {
		t.Errorf("oldest kept entry = %v, want the third one", oldest)
	}
}

func TestJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	j, err := Open(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Record(context.Background(), Entry{Type: "bridge.started"}); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = Open(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	if n, _ := j.Count(context.Background()); n != 1 {
		t.Errorf("Count() after reopen = %d, want 1", n)
	}
}

func TestJournal_Attach(t *testing.T) {
	j := openTestJournal(t, 100)
	bus := event.NewBus(nil)
	id := j.Attach(bus)
	if id == "" {
		t.Fatal("Attach should return a subscription ID")
	}

	bus.Publish(event.NewBridgeStartedEvent(1234, "go run main.go", "qr_log.txt", false))
	bus.Publish(event.NewStatusResetEvent("restart"))

	entries, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	var started map[string]any
	for _, e := range entries {
		if e.Type == event.TypeBridgeStarted {
			if err := json.Unmarshal(e.Details, &started); err != nil {
				t.Fatal(err)
			}
		}
	}
	if started["pid"] != float64(1234) || started["command"] != "go run main.go" {
		t.Errorf("started details = %v", started)
	}

	bus.Unsubscribe(id)
	bus.Publish(event.NewStatusResetEvent("ignored"))
	if n, _ := j.Count(context.Background()); n != 2 {
		t.Errorf("Count() after unsubscribe = %d, want 2", n)
	}
}
