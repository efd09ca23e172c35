package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mentor0/mentor/internal/log"
	"github.com/mentor0/mentor/internal/window"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockDeleter records DeleteAll calls and can fail on demand.
type mockDeleter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (d *mockDeleter) DeleteAll(_ context.Context, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, sessionID)
	return d.err
}

func (d *mockDeleter) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func newTestStore(deleter ChunkDeleter) *Store {
	return New(deleter, DefaultIdleTimeout, DefaultSweepInterval, log.NewNop())
}

func TestGetOrCreate_MintsIDWhenEmpty(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)

	a := s.GetOrCreate("")
	b := s.GetOrCreate("")

	if a.ID == "" || b.ID == "" {
		t.Fatal("expected minted session ids")
	}
	if a.ID == b.ID {
		t.Error("each empty-id call must mint a distinct session")
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", s.Len())
	}
}

func TestGetOrCreate_ReturnsExisting(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	s.AppendMessage("abc", window.RoleUser, "hello")

	conv := s.GetOrCreate("abc")

	if len(conv.Messages) != 1 || conv.Messages[0].Content != "hello" {
		t.Errorf("expected the existing conversation, got %+v", conv.Messages)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 session, got %d", s.Len())
	}
}

func TestAppendMessage_TimestampsNonDecreasing(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)

	// Simulate a wall clock stepping backwards between appends.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	s.now = func() time.Time {
		ts := clock[i%len(clock)]
		i++
		return ts
	}

	s.AppendMessage("sid", window.RoleUser, "first")
	s.AppendMessage("sid", window.RoleAssistant, "second")
	s.AppendMessage("sid", window.RoleUser, "third")

	msgs := s.History("sid")
	for j := 1; j < len(msgs); j++ {
		if msgs[j].Timestamp.Before(msgs[j-1].Timestamp) {
			t.Fatalf("timestamp %d went backwards: %v < %v", j, msgs[j].Timestamp, msgs[j-1].Timestamp)
		}
	}
}

func TestAppendMessage_OrderPreservedUnderConcurrency(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)

	// Many goroutines across many sessions; per-session counts must be
	// exact and snapshots must never observe torn state.
	const sessions = 8
	const perSession = 50

	var wg sync.WaitGroup
	for sid := 0; sid < sessions; sid++ {
		for m := 0; m < perSession; m++ {
			wg.Add(1)
			go func(sid, m int) {
				defer wg.Done()
				s.AppendMessage(fmt.Sprintf("s%d", sid), window.RoleUser, fmt.Sprintf("m%d", m))
			}(sid, m)
		}
	}
	wg.Wait()

	for sid := 0; sid < sessions; sid++ {
		if got := len(s.History(fmt.Sprintf("s%d", sid))); got != perSession {
			t.Errorf("session s%d: %d messages, want %d", sid, got, perSession)
		}
	}
}

func TestClearMessages_KeepsUploadTracking(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	s.AppendMessage("sid", window.RoleUser, "hi")
	s.RecordUpload("sid", "thesis.pdf", 2048)

	s.ClearMessages("sid")

	conv := s.GetOrCreate("sid")
	if len(conv.Messages) != 0 {
		t.Error("messages should be cleared")
	}
	if len(conv.UploadedFiles) != 1 || conv.UploadedFiles[0] != "thesis.pdf" {
		t.Errorf("upload tracking must survive, got %v", conv.UploadedFiles)
	}
	if conv.TotalUploadBytes != 2048 {
		t.Errorf("upload bytes must survive, got %d", conv.TotalUploadBytes)
	}
}

func TestRecordUpload_DeduplicatesNames(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	s.RecordUpload("sid", "notes.md", 100)
	s.RecordUpload("sid", "notes.md", 150)

	conv := s.GetOrCreate("sid")
	if len(conv.UploadedFiles) != 1 {
		t.Errorf("expected one filename entry, got %v", conv.UploadedFiles)
	}
	if conv.TotalUploadBytes != 250 {
		t.Errorf("bytes should accumulate across re-uploads, got %d", conv.TotalUploadBytes)
	}
}

func TestClearAll_ResetsEverythingAndDeletesChunks(t *testing.T) {
	t.Parallel()

	deleter := &mockDeleter{}
	s := newTestStore(deleter)
	s.AppendMessage("sid", window.RoleUser, "hi")
	s.RecordUpload("sid", "thesis.pdf", 2048)

	notice := s.ClearAll(context.Background(), "sid")

	if notice != "" {
		t.Errorf("expected clean reset, got notice %q", notice)
	}
	if deleter.callCount() != 1 {
		t.Errorf("expected one index delete, got %d", deleter.callCount())
	}
	conv := s.GetOrCreate("sid")
	if len(conv.Messages) != 0 || len(conv.UploadedFiles) != 0 || conv.TotalUploadBytes != 0 {
		t.Errorf("expected fully reset conversation, got %+v", conv)
	}
}

func TestClearAll_IndexFailureStillClearsMessages(t *testing.T) {
	t.Parallel()

	deleter := &mockDeleter{err: errors.New("connection refused")}
	s := newTestStore(deleter)
	s.AppendMessage("sid", window.RoleUser, "hi")

	notice := s.ClearAll(context.Background(), "sid")

	if notice == "" {
		t.Error("index failure must surface a degraded notice")
	}
	if len(s.History("sid")) != 0 {
		t.Error("messages must be cleared even when the index delete fails")
	}
}

func TestClearAll_Idempotent(t *testing.T) {
	t.Parallel()

	deleter := &mockDeleter{}
	s := newTestStore(deleter)
	s.AppendMessage("sid", window.RoleUser, "hi")

	if notice := s.ClearAll(context.Background(), "sid"); notice != "" {
		t.Errorf("first reset: unexpected notice %q", notice)
	}
	if notice := s.ClearAll(context.Background(), "sid"); notice != "" {
		t.Errorf("second reset: unexpected notice %q", notice)
	}
}

func TestEvictExpired_RemovesOnlyIdleSessions(t *testing.T) {
	t.Parallel()

	s := New(nil, time.Hour, time.Minute, log.NewNop())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	s.AppendMessage("stale", window.RoleUser, "old")
	current = base.Add(2 * time.Hour)
	s.AppendMessage("fresh", window.RoleUser, "new")

	evicted, swept := s.EvictExpired()
	if !swept {
		t.Fatal("first call must sweep")
	}
	if evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 surviving session, got %d", s.Len())
	}
	if len(s.History("fresh")) != 1 {
		t.Error("the fresh session must survive")
	}
}

func TestEvictExpired_RateLimited(t *testing.T) {
	t.Parallel()

	s := New(nil, time.Hour, time.Hour, log.NewNop())

	if _, swept := s.EvictExpired(); !swept {
		t.Fatal("first call must sweep")
	}
	for i := 0; i < 5; i++ {
		if _, swept := s.EvictExpired(); swept {
			t.Fatal("calls within the sweep interval must be skipped")
		}
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	s.AppendMessage("sid", window.RoleUser, "original")

	conv := s.GetOrCreate("sid")
	conv.Messages[0].Content = "mutated"

	if got := s.History("sid")[0].Content; got != "original" {
		t.Errorf("store state leaked through a snapshot: %q", got)
	}
}
