package index

import (
	"errors"
	"time"
)

var (
	// ErrUnavailable indicates the embedding model or backing store
	// failed and the operation degraded. Callers treat search results
	// as empty and adds as no-ops; the request itself must not fail.
	ErrUnavailable = errors.New("vector index unavailable")
)

// Result is a single search hit, ordered by descending relevance.
type Result struct {
	ChunkID    string
	Text       string
	Filename   string
	FileType   string
	ChunkIndex int
	TokenCount int
	SessionID  string
	CreatedAt  time.Time

	// Relevance is 1/(1+distance): 1.0 for identical vectors,
	// approaching 0 as distance grows. Stable (0,1] range regardless
	// of the distance metric's scale.
	Relevance float64
}

// DocumentStats aggregates the indexed chunks of one source document.
type DocumentStats struct {
	Filename    string `json:"filename"`
	FileType    string `json:"file_type"`
	ChunkCount  int    `json:"chunk_count"`
	TotalTokens int    `json:"total_tokens"`
	ByteSize    int64  `json:"byte_size"`
}

// Stats aggregates the index contents of one session.
// Zero documents is a valid, non-error result.
type Stats struct {
	TotalChunks    int             `json:"total_chunks"`
	TotalDocuments int             `json:"total_documents"`
	Documents      []DocumentStats `json:"documents"`
}
