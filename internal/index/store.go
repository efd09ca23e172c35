// Package index persists chunk embeddings and serves metadata-filtered
// nearest-neighbor search, scoped per conversation session.
//
// The Store embeds chunk text through a genkit ai.Embedder and keeps
// vector + metadata rows in PostgreSQL with pgvector. Every query and
// delete filters by session id; that filter is the isolation boundary
// between conversations.
//
// Embedding and storage are expected-possible failure points: Add and
// Search retry once, then degrade with ErrUnavailable instead of
// crashing the request. Construction failures are fatal.
package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/mentor0/mentor/internal/chunker"
	"github.com/mentor0/mentor/internal/log"
)

// Default bounds for external calls.
const (
	DefaultEmbedTimeout  = 10 * time.Second
	DefaultSearchTimeout = 10 * time.Second
)

// Store manages chunk embeddings with vector search capabilities.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	queries       Querier
	embedder      ai.Embedder
	logger        log.Logger
	embedTimeout  time.Duration
	searchTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedTimeout bounds each embedding call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Store) { s.embedTimeout = d }
}

// WithSearchTimeout bounds each vector search query.
func WithSearchTimeout(d time.Duration) Option {
	return func(s *Store) { s.searchTimeout = d }
}

// New creates a Store. querier and embedder are required; a nil logger
// falls back to NewNop-equivalent default.
func New(querier Querier, embedder ai.Embedder, logger log.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Store{
		queries:       querier,
		embedder:      embedder,
		logger:        logger,
		embedTimeout:  DefaultEmbedTimeout,
		searchTimeout: DefaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add embeds and stores the given chunks, returning the ids of chunks
// that were persisted. Upserts keyed by chunk id make retrying after a
// partial failure safe. On embedding or storage failure the error wraps
// ErrUnavailable; chunks already persisted stay persisted.
func (s *Store) Add(ctx context.Context, chunks []chunker.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := s.embedTexts(ctx, texts)
	if err != nil {
		s.logger.Error("embedding failed, no chunks added",
			"session_id", chunks[0].SessionID,
			"chunk_count", len(chunks),
			"error", err)
		return nil, fmt.Errorf("%w: embedding: %v", ErrUnavailable, err)
	}

	var added []string
	for i, ch := range chunks {
		vec := pgvector.NewVector(vectors[i])
		params := UpsertChunkParams{
			ID:         ch.ID,
			SessionID:  ch.SessionID,
			Text:       ch.Text,
			Embedding:  &vec,
			TokenCount: int32(ch.TokenCount), // #nosec G115 -- bounded by chunk target size
			ChunkIndex: int32(ch.ChunkIndex), // #nosec G115 -- bounded by document size
			Filename:   ch.Filename,
			FileType:   ch.FileType,
			ByteSize:   ch.ByteSize,
		}

		if err := s.upsertWithRetry(ctx, params); err != nil {
			s.logger.Error("chunk upsert failed after retry",
				"chunk_id", ch.ID,
				"session_id", ch.SessionID,
				"error", err)
			return added, fmt.Errorf("%w: stored %d of %d chunks: %v",
				ErrUnavailable, len(added), len(chunks), err)
		}
		added = append(added, ch.ID)
	}

	s.logger.Debug("added chunks",
		"session_id", chunks[0].SessionID,
		"count", len(added))
	return added, nil
}

// upsertWithRetry retries a failed upsert once. The upsert is
// idempotent, so a retry after an ambiguous failure cannot corrupt the
// index.
func (s *Store) upsertWithRetry(ctx context.Context, params UpsertChunkParams) error {
	err := s.queries.UpsertChunk(ctx, params)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	s.logger.Warn("chunk upsert failed, retrying once",
		"chunk_id", params.ID,
		"error", err)
	return s.queries.UpsertChunk(ctx, params)
}

// Search embeds the query (concatenated with optional context text) and
// returns up to k chunks of the given session, ordered by descending
// relevance. Dependency failures degrade to an empty result set with
// the error wrapping ErrUnavailable.
func (s *Store) Search(ctx context.Context, query, sessionID, contextText string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	embedText := query
	if contextText != "" {
		embedText = query + "\n\n" + contextText
	}

	vectors, err := s.embedTexts(ctx, []string{embedText})
	if err != nil {
		s.logger.Error("query embedding failed, returning empty results",
			"session_id", sessionID,
			"error", err)
		return nil, fmt.Errorf("%w: query embedding: %v", ErrUnavailable, err)
	}
	queryVec := pgvector.NewVector(vectors[0])

	searchCtx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	params := SearchChunksParams{
		QueryEmbedding: &queryVec,
		SessionID:      sessionID,
		ResultLimit:    int32(k), // #nosec G115 -- validated by config, k <= 20
	}
	rows, err := s.queries.SearchChunks(searchCtx, params)
	if err != nil && searchCtx.Err() == nil {
		s.logger.Warn("vector search failed, retrying once",
			"session_id", sessionID,
			"error", err)
		rows, err = s.queries.SearchChunks(searchCtx, params)
	}
	if err != nil {
		s.logger.Error("vector search failed, returning empty results",
			"session_id", sessionID,
			"error", err)
		return nil, fmt.Errorf("%w: search: %v", ErrUnavailable, err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			ChunkID:    row.ID,
			Text:       row.Text,
			Filename:   row.Filename,
			FileType:   row.FileType,
			ChunkIndex: int(row.ChunkIndex),
			TokenCount: int(row.TokenCount),
			SessionID:  row.SessionID,
			CreatedAt:  row.CreatedAt.Time,
			Relevance:  1.0 / (1.0 + row.Distance),
		})
	}
	return results, nil
}

// Stats aggregates the current index contents for a session.
func (s *Store) Stats(ctx context.Context, sessionID string) (Stats, error) {
	rows, err := s.queries.SessionStats(ctx, sessionID)
	if err != nil {
		return Stats{}, fmt.Errorf("session stats for %q: %w", sessionID, err)
	}

	stats := Stats{Documents: make([]DocumentStats, 0, len(rows))}
	for _, row := range rows {
		stats.TotalChunks += int(row.ChunkCount)
		stats.Documents = append(stats.Documents, DocumentStats{
			Filename:    row.Filename,
			FileType:    row.FileType,
			ChunkCount:  int(row.ChunkCount),
			TotalTokens: int(row.TotalTokens),
			ByteSize:    row.ByteSize,
		})
	}
	stats.TotalDocuments = len(stats.Documents)
	return stats, nil
}

// Reindex re-embeds every stored chunk of a session and upserts the
// fresh vectors, returning the number of chunks refreshed. Useful after
// switching embedding models; existing rows keep their text and
// metadata. Dependency failures wrap ErrUnavailable like Add.
func (s *Store) Reindex(ctx context.Context, sessionID string) (int, error) {
	rows, err := s.queries.ListSessionChunks(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("%w: list chunks: %v", ErrUnavailable, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	chunks := make([]chunker.Chunk, len(rows))
	for i, row := range rows {
		chunks[i] = chunker.Chunk{
			ID:         row.ID,
			Text:       row.Text,
			TokenCount: int(row.TokenCount),
			ChunkIndex: int(row.ChunkIndex),
			Filename:   row.Filename,
			FileType:   row.FileType,
			SessionID:  row.SessionID,
			ByteSize:   row.ByteSize,
		}
	}

	added, err := s.Add(ctx, chunks)
	if err != nil {
		return len(added), err
	}

	s.logger.Info("reindexed session",
		"session_id", sessionID,
		"chunks", len(added))
	return len(added), nil
}

// DeleteAll removes every chunk for a session. Deleting zero chunks is
// success.
func (s *Store) DeleteAll(ctx context.Context, sessionID string) error {
	deleted, err := s.queries.DeleteSessionChunks(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete chunks for session %q: %w", sessionID, err)
	}
	s.logger.Debug("deleted session chunks",
		"session_id", sessionID,
		"count", deleted)
	return nil
}

// embedTexts embeds a batch of texts with a bounded timeout, returning
// one vector per input in order.
func (s *Store) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := s.embedder.Embed(embedCtx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d embeddings for %d inputs",
			len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d (%s)", i, preview(texts[i]))
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}

// preview shortens text for error messages.
func preview(text string) string {
	const n = 40
	text = strings.TrimSpace(text)
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
