// Package engine composes the chat pipeline: session history, context
// window selection, retrieval over uploaded documents, provider
// formatting, and the LLM call.
//
// The engine owns degradation policy. Index and generator failures
// never fail a request; they turn into plain-language notices while
// conversational state stays intact. Only input errors (empty message,
// empty document) surface as errors to the caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mentor0/mentor/internal/chunker"
	"github.com/mentor0/mentor/internal/index"
	"github.com/mentor0/mentor/internal/log"
	"github.com/mentor0/mentor/internal/provider"
	"github.com/mentor0/mentor/internal/session"
	"github.com/mentor0/mentor/internal/token"
	"github.com/mentor0/mentor/internal/window"
)

// ErrEmptyMessage rejects a chat request with no content.
var ErrEmptyMessage = errors.New("message is empty")

// Degraded-path notices shown to the end user. Plain language, no
// technical detail.
const (
	noticeDocumentsUnavailable = "I'm having trouble accessing your documents right now, so this answer may not reflect them."
	noticeGenerationFailed     = "I'm having trouble generating a response right now. Please try again in a moment."
	noticeIndexingIncomplete   = "Some of your document could not be indexed right now. You can upload it again later."
)

// Generator produces a completion from a formatted provider payload.
// The engine never performs the network call itself.
type Generator interface {
	Generate(ctx context.Context, payload provider.Payload, model string) (string, error)
}

// Index is the vector index capability set the engine consumes.
type Index interface {
	Add(ctx context.Context, chunks []chunker.Chunk) ([]string, error)
	Search(ctx context.Context, query, sessionID, contextText string, k int) ([]index.Result, error)
	Stats(ctx context.Context, sessionID string) (index.Stats, error)
	Reindex(ctx context.Context, sessionID string) (int, error)
}

// Config carries the request-independent engine settings, constructed
// once at process start.
type Config struct {
	SystemPrompt       string
	Provider           provider.ID
	Model              string
	HistoryTokenBudget int
	SearchTopK         int
	LLMTimeout         time.Duration
}

// Engine wires the pipeline components together.
type Engine struct {
	cfg       Config
	sessions  *session.Store
	chunker   *chunker.Chunker
	index     Index
	builder   *window.Builder
	generator Generator
	counter   token.Counter
	logger    log.Logger

	// reindexing drops duplicate concurrent reindex triggers for the
	// same session instead of queueing them.
	reindexing singleflight.Group
}

// New creates an Engine. All collaborators are required.
func New(cfg Config, sessions *session.Store, chk *chunker.Chunker, idx Index,
	builder *window.Builder, gen Generator, counter token.Counter, logger log.Logger) *Engine {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		sessions:  sessions,
		chunker:   chk,
		index:     idx,
		builder:   builder,
		generator: gen,
		counter:   counter,
		logger:    logger.With("component", "engine"),
	}
}

// ChatResult is the outcome of one chat turn.
type ChatResult struct {
	SessionID     string `json:"session_id"`
	Reply         string `json:"reply"`
	Notice        string `json:"notice,omitempty"`
	Degraded      bool   `json:"degraded,omitempty"`
	ContextTokens int    `json:"context_tokens"`
	Truncated     bool   `json:"truncated,omitempty"`
}

// Chat runs one turn: append the user message, assemble the context
// window with retrieval when the session has uploaded documents, call
// the generator, append and return the reply.
func (e *Engine) Chat(ctx context.Context, sessionID, message string) (ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return ChatResult{}, ErrEmptyMessage
	}

	// Opportunistic idle-session sweep; rate-limited internally.
	e.sessions.EvictExpired()

	conv := e.sessions.GetOrCreate(sessionID)
	sessionID = conv.ID

	e.sessions.AppendMessage(sessionID, window.RoleUser, message)
	history := e.sessions.History(sessionID)

	docMsgs, notice := e.retrieve(ctx, conv, message, history)

	docTokens := 0
	for _, m := range docMsgs {
		docTokens += e.counter.Count(m.Content)
	}

	win := e.builder.Build(history, e.cfg.SystemPrompt, e.cfg.HistoryTokenBudget-docTokens)
	msgs := spliceContext(win.Messages, docMsgs)
	payload := provider.Format(msgs, e.cfg.SystemPrompt, e.cfg.Provider)

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()

	degraded := false
	reply, err := e.generator.Generate(genCtx, payload, e.cfg.Model)
	if err != nil {
		e.logger.Error("generation failed",
			"session_id", sessionID,
			"provider", e.cfg.Provider,
			"error", err)
		reply = noticeGenerationFailed
		degraded = true
	}

	e.sessions.AppendMessage(sessionID, window.RoleAssistant, reply)

	return ChatResult{
		SessionID:     sessionID,
		Reply:         reply,
		Notice:        notice,
		Degraded:      degraded,
		ContextTokens: win.EstimatedTokens + docTokens,
		Truncated:     win.Truncated,
	}, nil
}

// retrieve searches the session's documents when any have been
// uploaded. Search failure degrades to no context plus a notice.
func (e *Engine) retrieve(ctx context.Context, conv session.Conversation, query string, history []window.Message) ([]window.Message, string) {
	if len(conv.UploadedFiles) == 0 || e.cfg.SearchTopK <= 0 {
		return nil, ""
	}

	results, err := e.index.Search(ctx, query, conv.ID, recentContext(history), e.cfg.SearchTopK)
	if err != nil {
		e.logger.Warn("document search degraded",
			"session_id", conv.ID,
			"error", err)
		return nil, noticeDocumentsUnavailable
	}
	if len(results) == 0 {
		return nil, ""
	}

	// Retrieved chunks enter the window as document turns, timestamped
	// alongside the newest message so chronological ordering holds.
	ts := history[len(history)-1].Timestamp
	msgs := make([]window.Message, len(results))
	for i, r := range results {
		msgs[i] = window.Message{
			Role:      window.RoleDocument,
			Content:   fmt.Sprintf("[%s] %s", r.Filename, r.Text),
			Timestamp: ts,
		}
	}
	return msgs, ""
}

// recentContext joins the tail of the conversation into query context
// for embedding, sharpening retrieval for terse follow-up questions.
func recentContext(history []window.Message) string {
	const tail = 3
	start := len(history) - 1 - tail
	if start < 0 {
		start = 0
	}
	// The newest message is the query itself; use the turns before it.
	prior := history[start : len(history)-1]
	parts := make([]string, 0, len(prior))
	for _, m := range prior {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// spliceContext inserts document turns immediately before the newest
// message so the question directly follows its supporting material.
func spliceContext(msgs, docs []window.Message) []window.Message {
	if len(docs) == 0 {
		return msgs
	}
	if len(msgs) == 0 {
		return docs
	}
	out := make([]window.Message, 0, len(msgs)+len(docs))
	out = append(out, msgs[:len(msgs)-1]...)
	out = append(out, docs...)
	out = append(out, msgs[len(msgs)-1])
	return out
}

// UploadResult is the outcome of indexing one document.
type UploadResult struct {
	SessionID  string `json:"session_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
	Notice     string `json:"notice,omitempty"`
}

// Upload chunks and indexes extracted document text for a session.
// Empty content is an input error; index failures degrade to a notice
// with however many chunks made it in.
func (e *Engine) Upload(ctx context.Context, sessionID, content, filename, fileType string) (UploadResult, error) {
	conv := e.sessions.GetOrCreate(sessionID)
	sessionID = conv.ID

	chunks, err := e.chunker.Chunk(content, chunker.Metadata{
		Filename:  filename,
		FileType:  fileType,
		SessionID: sessionID,
		ByteSize:  int64(len(content)),
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("chunk %q: %w", filename, err)
	}

	ids, err := e.index.Add(ctx, chunks)
	result := UploadResult{
		SessionID:  sessionID,
		Filename:   filename,
		ChunkCount: len(ids),
	}
	if err != nil {
		e.logger.Error("document indexing degraded",
			"session_id", sessionID,
			"filename", filename,
			"indexed", len(ids),
			"total", len(chunks),
			"error", err)
		result.Notice = noticeIndexingIncomplete
	}

	if len(ids) > 0 {
		e.sessions.RecordUpload(sessionID, filename, int64(len(content)))
	}
	return result, nil
}

// SessionStats combines conversation state with index contents.
type SessionStats struct {
	SessionID        string        `json:"session_id"`
	MessageCount     int           `json:"message_count"`
	UploadedFiles    []string      `json:"uploaded_files"`
	TotalUploadBytes int64         `json:"total_upload_bytes"`
	Index            index.Stats   `json:"index"`
	Notice           string        `json:"notice,omitempty"`
	LastAccessedAt   time.Time     `json:"last_accessed_at"`
}

// Stats reports a session's conversation and index state. Index
// failure degrades to zero index stats plus a notice.
func (e *Engine) Stats(ctx context.Context, sessionID string) SessionStats {
	conv := e.sessions.GetOrCreate(sessionID)

	stats := SessionStats{
		SessionID:        conv.ID,
		MessageCount:     len(conv.Messages),
		UploadedFiles:    conv.UploadedFiles,
		TotalUploadBytes: conv.TotalUploadBytes,
		LastAccessedAt:   conv.LastAccessedAt,
	}

	idxStats, err := e.index.Stats(ctx, conv.ID)
	if err != nil {
		e.logger.Warn("index stats degraded",
			"session_id", conv.ID,
			"error", err)
		stats.Notice = noticeDocumentsUnavailable
		return stats
	}
	stats.Index = idxStats
	return stats
}

// ResetMessages clears the conversation but keeps indexed documents.
func (e *Engine) ResetMessages(sessionID string) {
	e.sessions.ClearMessages(sessionID)
}

// ResetAll clears the conversation and its indexed documents. The
// returned notice is empty on full success.
func (e *Engine) ResetAll(ctx context.Context, sessionID string) string {
	return e.sessions.ClearAll(ctx, sessionID)
}

// ReindexResult is the outcome of a background reindex trigger.
type ReindexResult struct {
	SessionID  string `json:"session_id"`
	ChunkCount int    `json:"chunk_count"`
	Shared     bool   `json:"shared,omitempty"`
	Notice     string `json:"notice,omitempty"`
}

// Reindex re-embeds a session's stored chunks. Concurrent triggers for
// the same session collapse into one run; duplicates receive the shared
// outcome instead of queueing a second pass.
func (e *Engine) Reindex(ctx context.Context, sessionID string) ReindexResult {
	v, err, shared := e.reindexing.Do(sessionID, func() (any, error) {
		return e.index.Reindex(ctx, sessionID)
	})

	result := ReindexResult{SessionID: sessionID, Shared: shared}
	if n, ok := v.(int); ok {
		result.ChunkCount = n
	}
	if err != nil {
		e.logger.Warn("reindex degraded",
			"session_id", sessionID,
			"error", err)
		result.Notice = noticeDocumentsUnavailable
	}
	return result
}
