package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Querier defines the database operations the Store needs.
// Interfaces are defined by the consumer; PGQuerier is the pgx-backed
// production implementation and tests substitute a mock.
type Querier interface {
	// UpsertChunk inserts or replaces a chunk row.
	UpsertChunk(ctx context.Context, arg UpsertChunkParams) error

	// SearchChunks performs nearest-neighbor search within a session.
	SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error)

	// SessionStats aggregates chunk counts per document for a session.
	SessionStats(ctx context.Context, sessionID string) ([]SessionStatsRow, error)

	// ListSessionChunks returns every chunk row of a session without
	// embeddings, in chunk order.
	ListSessionChunks(ctx context.Context, sessionID string) ([]ListSessionChunksRow, error)

	// DeleteSessionChunks removes every chunk for a session and
	// returns the number of rows deleted.
	DeleteSessionChunks(ctx context.Context, sessionID string) (int64, error)
}

// UpsertChunkParams carries one chunk row.
type UpsertChunkParams struct {
	ID         string
	SessionID  string
	Text       string
	Embedding  *pgvector.Vector
	TokenCount int32
	ChunkIndex int32
	Filename   string
	FileType   string
	ByteSize   int64
}

// SearchChunksParams restricts nearest-neighbor search to one session.
type SearchChunksParams struct {
	QueryEmbedding *pgvector.Vector
	SessionID      string
	ResultLimit    int32
}

// SearchChunksRow is one nearest-neighbor hit with its raw distance.
type SearchChunksRow struct {
	ID         string
	Text       string
	SessionID  string
	Filename   string
	FileType   string
	ChunkIndex int32
	TokenCount int32
	ByteSize   int64
	CreatedAt  pgtype.Timestamptz
	Distance   float64
}

// ListSessionChunksRow is one stored chunk without its embedding.
type ListSessionChunksRow struct {
	ID         string
	Text       string
	SessionID  string
	Filename   string
	FileType   string
	ChunkIndex int32
	TokenCount int32
	ByteSize   int64
}

// SessionStatsRow is one per-document aggregate.
type SessionStatsRow struct {
	Filename    string
	FileType    string
	ChunkCount  int64
	TotalTokens int64
	ByteSize    int64
}

// PGQuerier implements Querier against PostgreSQL with pgvector.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier wraps a connection pool. The pool must have pgvector
// types registered (database.Open does this).
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

const upsertChunkSQL = `
INSERT INTO chunks (id, session_id, text, embedding, token_count, chunk_index, filename, file_type, byte_size)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    session_id  = EXCLUDED.session_id,
    text        = EXCLUDED.text,
    embedding   = EXCLUDED.embedding,
    token_count = EXCLUDED.token_count,
    chunk_index = EXCLUDED.chunk_index,
    filename    = EXCLUDED.filename,
    file_type   = EXCLUDED.file_type,
    byte_size   = EXCLUDED.byte_size`

func (q *PGQuerier) UpsertChunk(ctx context.Context, arg UpsertChunkParams) error {
	_, err := q.pool.Exec(ctx, upsertChunkSQL,
		arg.ID, arg.SessionID, arg.Text, arg.Embedding,
		arg.TokenCount, arg.ChunkIndex, arg.Filename, arg.FileType, arg.ByteSize)
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", arg.ID, err)
	}
	return nil
}

const searchChunksSQL = `
SELECT id, text, session_id, filename, file_type, chunk_index, token_count, byte_size, created_at,
       embedding <=> $1 AS distance
FROM chunks
WHERE session_id = $2
ORDER BY embedding <=> $1
LIMIT $3`

func (q *PGQuerier) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error) {
	rows, err := q.pool.Query(ctx, searchChunksSQL,
		arg.QueryEmbedding, arg.SessionID, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchChunksRow
	for rows.Next() {
		var r SearchChunksRow
		if err := rows.Scan(&r.ID, &r.Text, &r.SessionID, &r.Filename, &r.FileType,
			&r.ChunkIndex, &r.TokenCount, &r.ByteSize, &r.CreatedAt, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

const sessionStatsSQL = `
SELECT filename, file_type, COUNT(*) AS chunk_count,
       COALESCE(SUM(token_count), 0) AS total_tokens,
       MAX(byte_size) AS byte_size
FROM chunks
WHERE session_id = $1
GROUP BY filename, file_type
ORDER BY filename`

func (q *PGQuerier) SessionStats(ctx context.Context, sessionID string) ([]SessionStatsRow, error) {
	rows, err := q.pool.Query(ctx, sessionStatsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	var results []SessionStatsRow
	for rows.Next() {
		var r SessionStatsRow
		if err := rows.Scan(&r.Filename, &r.FileType, &r.ChunkCount, &r.TotalTokens, &r.ByteSize); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats rows: %w", err)
	}
	return results, nil
}

const listSessionChunksSQL = `
SELECT id, text, session_id, filename, file_type, chunk_index, token_count, byte_size
FROM chunks
WHERE session_id = $1
ORDER BY filename, chunk_index`

func (q *PGQuerier) ListSessionChunks(ctx context.Context, sessionID string) ([]ListSessionChunksRow, error) {
	rows, err := q.pool.Query(ctx, listSessionChunksSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session chunks: %w", err)
	}
	defer rows.Close()

	var results []ListSessionChunksRow
	for rows.Next() {
		var r ListSessionChunksRow
		if err := rows.Scan(&r.ID, &r.Text, &r.SessionID, &r.Filename, &r.FileType,
			&r.ChunkIndex, &r.TokenCount, &r.ByteSize); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return results, nil
}

const deleteSessionChunksSQL = `DELETE FROM chunks WHERE session_id = $1`

func (q *PGQuerier) DeleteSessionChunks(ctx context.Context, sessionID string) (int64, error) {
	tag, err := q.pool.Exec(ctx, deleteSessionChunksSQL, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}
