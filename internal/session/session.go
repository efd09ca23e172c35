// Package session holds the in-memory registry of conversations.
//
// The store is process-wide shared mutable state: all mutation goes
// through its narrow API, callers never touch a Conversation's fields
// directly. Sessions are created on demand, evicted when idle, and
// serialized per conversation so append order matches arrival order.
//
// Durability is out of scope. A host that needs conversations to
// survive restarts hydrates them back into the store before first use.
package session

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mentor0/mentor/internal/log"
	"github.com/mentor0/mentor/internal/window"
)

// Defaults, overridable via config.
const (
	DefaultIdleTimeout   = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

const shardCount = 16

// ChunkDeleter is the one index capability the store needs: removing a
// session's chunks during a full reset.
type ChunkDeleter interface {
	DeleteAll(ctx context.Context, sessionID string) error
}

// Conversation is a snapshot of one session's state. Snapshots are
// copies; mutating one has no effect on the store.
type Conversation struct {
	ID               string
	Messages         []window.Message
	UploadedFiles    []string
	TotalUploadBytes int64
	CreatedAt        time.Time
	LastAccessedAt   time.Time
}

// entry is the live, mutable record behind a Conversation snapshot.
// Guarded by its own mutex so sessions do not contend with each other.
type entry struct {
	mu sync.Mutex

	id               string
	messages         []window.Message
	uploadedFiles    map[string]struct{}
	totalUploadBytes int64
	createdAt        time.Time
	lastAccessedAt   time.Time

	// lastTimestamp enforces non-decreasing message timestamps even if
	// the wall clock steps backwards.
	lastTimestamp time.Time
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// Store is the concurrency-safe session registry. Keys are sharded so
// unrelated sessions never share a lock.
type Store struct {
	shards      [shardCount]*shard
	deleter     ChunkDeleter
	idleTimeout time.Duration
	sweeper     *rate.Limiter
	logger      log.Logger

	now func() time.Time
}

// New creates a Store. The deleter may be nil when the host runs
// without a vector index; ClearAll then only clears in-memory state.
func New(deleter ChunkDeleter, idleTimeout, sweepInterval time.Duration, logger log.Logger) *Store {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	s := &Store{
		deleter:     deleter,
		idleTimeout: idleTimeout,
		sweeper:     rate.NewLimiter(rate.Every(sweepInterval), 1),
		logger:      logger.With("component", "session"),
		now:         time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*entry)}
	}
	return s
}

// GetOrCreate returns the session for id, creating it if absent. An
// empty id mints a fresh UUID. The returned snapshot's ID is always
// the effective session id.
func (s *Store) GetOrCreate(id string) Conversation {
	if id == "" {
		id = uuid.NewString()
	}
	e := s.entryFor(id)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAccessedAt = s.now()
	return e.snapshot()
}

// AppendMessage appends one turn with a generated timestamp and bumps
// last-accessed. The session is created if absent. Returns the stored
// message.
func (s *Store) AppendMessage(id string, role window.Role, content string) window.Message {
	e := s.entryFor(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	ts := s.now()
	if ts.Before(e.lastTimestamp) {
		ts = e.lastTimestamp
	}
	e.lastTimestamp = ts

	msg := window.Message{Role: role, Content: content, Timestamp: ts}
	e.messages = append(e.messages, msg)
	e.lastAccessedAt = ts
	return msg
}

// History returns a copy of the session's messages in append order.
func (s *Store) History(id string) []window.Message {
	e := s.entryFor(id)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAccessedAt = s.now()
	return append([]window.Message(nil), e.messages...)
}

// RecordUpload tracks an uploaded document on the session. Re-uploads
// of the same filename count bytes again but keep one name entry.
func (s *Store) RecordUpload(id, filename string, byteSize int64) {
	e := s.entryFor(id)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.uploadedFiles[filename] = struct{}{}
	e.totalUploadBytes += byteSize
	e.lastAccessedAt = s.now()
}

// ClearMessages empties the session's messages. Uploaded-file tracking
// is untouched; the indexed documents remain searchable.
func (s *Store) ClearMessages(id string) {
	e := s.entryFor(id)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = nil
	e.lastAccessedAt = s.now()
}

// ClearAll resets the session completely: messages, upload tracking,
// and the session's chunks in the vector index. An index failure never
// loses the in-memory reset; it degrades to a plain-language notice in
// the returned string. Calling ClearAll twice is a harmless no-op the
// second time.
func (s *Store) ClearAll(ctx context.Context, id string) string {
	e := s.entryFor(id)

	e.mu.Lock()
	e.messages = nil
	e.uploadedFiles = make(map[string]struct{})
	e.totalUploadBytes = 0
	e.lastAccessedAt = s.now()
	e.mu.Unlock()

	if s.deleter == nil {
		return ""
	}
	if err := s.deleter.DeleteAll(ctx, id); err != nil {
		s.logger.Error("index delete failed during session reset",
			"session_id", id,
			"error", err)
		return "Your conversation was reset, but some previously uploaded documents could not be removed right now."
	}
	return ""
}

// EvictExpired removes sessions idle longer than the timeout. The scan
// is internally rate-limited to at most one sweep per interval; calls
// in between return immediately with swept=false.
func (s *Store) EvictExpired() (evicted int, swept bool) {
	if !s.sweeper.Allow() {
		return 0, false
	}

	cutoff := s.now().Add(-s.idleTimeout)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.sessions {
			e.mu.Lock()
			idle := e.lastAccessedAt.Before(cutoff)
			e.mu.Unlock()
			if idle {
				delete(sh.sessions, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}

	if evicted > 0 {
		s.logger.Info("evicted idle sessions", "count", evicted)
	}
	return evicted, true
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// entryFor returns the live entry for id, creating it if absent.
func (s *Store) entryFor(id string) *entry {
	sh := s.shardFor(id)

	sh.mu.RLock()
	e, ok := sh.sessions[id]
	sh.mu.RUnlock()
	if ok {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok = sh.sessions[id]; ok {
		return e
	}
	now := s.now()
	e = &entry{
		id:             id,
		uploadedFiles:  make(map[string]struct{}),
		createdAt:      now,
		lastAccessedAt: now,
	}
	sh.sessions[id] = e
	return e
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// snapshot copies the entry. Caller holds e.mu.
func (e *entry) snapshot() Conversation {
	files := make([]string, 0, len(e.uploadedFiles))
	for f := range e.uploadedFiles {
		files = append(files, f)
	}
	sort.Strings(files)

	return Conversation{
		ID:               e.id,
		Messages:         append([]window.Message(nil), e.messages...),
		UploadedFiles:    files,
		TotalUploadBytes: e.totalUploadBytes,
		CreatedAt:        e.createdAt,
		LastAccessedAt:   e.lastAccessedAt,
	}
}
