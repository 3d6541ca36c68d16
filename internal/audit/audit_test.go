package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func sqlAlarm(requestID, action, message string) Alarm {
	return Alarm{
		RequestID: requestID,
		Kind:      KindAttack,
		CheckType: "sql",
		Action:    action,
		Plugin:    "sql_guard",
		Message:   message,
		URL:       "shop.example.com/item.php",
		Source:    "_GET.id",
		Params:    json.RawMessage(`{"server":"mysql","query":"select 1"}`),
	}
}

func TestSQLiteStore(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Log(ctx, sqlAlarm("r1", "log", "sql seen")); err != nil {
		t.Fatalf("failed to log alarm: %v", err)
	}

	// Wait to ensure different timestamp
	time.Sleep(1 * time.Second)

	if err := store.Log(ctx, sqlAlarm("r2", "block", "sql injection")); err != nil {
		t.Fatalf("failed to log alarm: %v", err)
	}

	entries, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("failed to get all: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if entries[0].Action != "block" || entries[0].RequestID != "r2" {
		t.Errorf("expected most recent entry (block) first, got %+v", entries[0].Alarm)
	}

	if entries[0].Timestamp.Equal(entries[1].Timestamp) {
		t.Error("expected different timestamps for entries")
	}

	if got := gjson.GetBytes(entries[1].Params, "query").String(); got != "select 1" {
		t.Errorf("expected params to round trip, got %q", got)
	}
	if entries[1].Source != "_GET.id" || entries[1].Plugin != "sql_guard" {
		t.Errorf("unexpected entry: %+v", entries[1].Alarm)
	}
}

func TestForRequest(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for i, id := range []string{"a", "b", "a"} {
		if err := store.Log(ctx, sqlAlarm(id, "log", fmt.Sprintf("alarm %d", i))); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.ForRequest(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Message != "alarm 0" || entries[1].Message != "alarm 2" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestImmutability(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Log(ctx, sqlAlarm("r1", "block", "original")); err != nil {
		t.Fatalf("failed to log: %v", err)
	}

	_, err := store.db.ExecContext(ctx, "UPDATE alarm_log SET message = 'modified' WHERE id = 1")
	if err == nil {
		t.Fatal("expected UPDATE to fail, but it succeeded")
	}
	if !strings.Contains(err.Error(), "not allowed") && !strings.Contains(err.Error(), "FAIL") {
		t.Errorf("expected trigger error, got: %v", err)
	}

	_, err = store.db.ExecContext(ctx, "DELETE FROM alarm_log WHERE id = 1")
	if err == nil {
		t.Fatal("expected DELETE to fail, but it succeeded")
	}

	entries, _ := store.GetAll(ctx)
	if len(entries) != 1 || entries[0].Message != "original" {
		t.Errorf("expected original entry unchanged, got %+v", entries)
	}
}

func TestMemoryStore(t *testing.T) {
	store, err := NewSQLiteStore(MemoryPath)
	if err != nil {
		t.Fatalf("failed to create memory store: %v", err)
	}
	defer store.Close()

	alarm := Alarm{Kind: KindPolicy, CheckType: "policy", PolicyID: 3008, Action: "log", Message: "Sensitive files found in webroot path:/srv"}
	if err := store.Log(context.Background(), alarm); err != nil {
		t.Fatal(err)
	}

	entries, err := store.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].PolicyID != 3008 || string(entries[0].Params) != "{}" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestValidation(t *testing.T) {
	valid := sqlAlarm("r", "log", "m")

	tests := []struct {
		name      string
		mutate    func(a *Alarm)
		expectErr bool
	}{
		{"valid", func(a *Alarm) {}, false},
		{"empty params", func(a *Alarm) { a.Params = nil }, false},
		{"invalid json", func(a *Alarm) { a.Params = json.RawMessage(`{bad`) }, true},
		{"invalid kind", func(a *Alarm) { a.Kind = "noise" }, true},
		{"invalid action", func(a *Alarm) { a.Action = "deny" }, true},
		{"empty message", func(a *Alarm) { a.Message = "" }, true},
		{"empty check type", func(a *Alarm) { a.CheckType = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			err := validateAlarm(a)
			if (err != nil) != tt.expectErr {
				t.Errorf("expected error: %v, got: %v", tt.expectErr, err)
			}
		})
	}
}

// memoryStore records alarms and can be made to block.
type memoryStore struct {
	mu      sync.Mutex
	alarms  []Alarm
	gate    chan struct{}
	failErr error
}

func (m *memoryStore) Log(ctx context.Context, a Alarm) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.alarms = append(m.alarms, a)
	return nil
}

func (m *memoryStore) GetAll(ctx context.Context) ([]Entry, error) { return nil, nil }
func (m *memoryStore) Close() error                                { return nil }

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alarms)
}

func TestAsyncSinkDrainsOnClose(t *testing.T) {
	store := &memoryStore{}
	sink := NewAsyncSink(store, 16)

	for i := 0; i < 10; i++ {
		sink.Report(context.Background(), sqlAlarm(fmt.Sprint(i), "log", "m"))
	}
	sink.Close()

	if store.count() != 10 {
		t.Errorf("expected 10 stored alarms, got %d", store.count())
	}
	if sink.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", sink.Dropped())
	}
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	store := &memoryStore{gate: make(chan struct{})}
	var dropped []string
	var mu sync.Mutex
	sink := NewAsyncSink(store, 1, WithDropHandler(func(a Alarm) {
		mu.Lock()
		dropped = append(dropped, a.RequestID)
		mu.Unlock()
	}))

	start := time.Now()
	for i := 0; i < 5; i++ {
		sink.Report(context.Background(), sqlAlarm(fmt.Sprint(i), "log", "m"))
	}
	if time.Since(start) > time.Second {
		t.Error("Report blocked on a full queue")
	}

	close(store.gate)
	sink.Close()

	// One alarm may be in the writer and one in the queue.
	if sink.Dropped() < 3 {
		t.Errorf("expected at least 3 drops, got %d", sink.Dropped())
	}
	mu.Lock()
	defer mu.Unlock()
	if uint64(len(dropped)) != sink.Dropped() {
		t.Errorf("drop handler saw %d alarms, counter says %d", len(dropped), sink.Dropped())
	}
	if store.count()+len(dropped) != 5 {
		t.Errorf("expected every alarm stored or dropped, stored %d dropped %d", store.count(), len(dropped))
	}
}

func TestAsyncSinkStoreFailure(t *testing.T) {
	store := &memoryStore{failErr: errors.New("disk full")}
	sink := NewAsyncSink(store, 4)
	sink.Report(context.Background(), sqlAlarm("r", "log", "m"))
	sink.Close()

	sink.Report(context.Background(), sqlAlarm("late", "log", "m"))
	if sink.Dropped() != 1 {
		t.Errorf("expected report after close to be dropped, got %d", sink.Dropped())
	}
}

func TestWithParam(t *testing.T) {
	params := WithParam(nil, "query", "select 1")
	params = WithParam(params, "source.name", "_GET.id")
	params = WithParam(params, "sensitive_files", []string{".git", "backup.sql"})

	doc := gjson.ParseBytes(params)
	if doc.Get("query").String() != "select 1" {
		t.Errorf("unexpected params: %s", params)
	}
	if doc.Get("source.name").String() != "_GET.id" {
		t.Errorf("unexpected params: %s", params)
	}
	if doc.Get("sensitive_files.#").Int() != 2 {
		t.Errorf("unexpected params: %s", params)
	}
}

func setupTestStore(t *testing.T) *SQLiteStore {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
