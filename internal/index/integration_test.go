//go:build integration

package index

import (
	"context"
	"hash/fnv"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mentor0/mentor/internal/chunker"
	"github.com/mentor0/mentor/internal/database"
	"github.com/mentor0/mentor/internal/log"
)

// hashEmbedder produces deterministic, text-dependent vectors so vector
// search ranks real neighbors without a live embedding model.
type hashEmbedder struct{ dim int }

func (e *hashEmbedder) Name() string          { return "hash-embedder" }
func (e *hashEmbedder) Register(api.Registry) {}

func (e *hashEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		text := ""
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		vec := make([]float32, e.dim)
		for i := range vec {
			h := fnv.New32a()
			_, _ = h.Write([]byte(text))
			_, _ = h.Write([]byte{byte(i)})
			vec[i] = float32(h.Sum32()%1000) / 1000.0
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: vec})
	}
	return resp, nil
}

func setupTestDB(t *testing.T, ctx context.Context) *Store {
	t.Helper()

	container, err := postgres.Run(ctx, "pgvector/pgvector:pg17",
		postgres.WithDatabase("mentor_test"),
		postgres.WithUsername("mentor"),
		postgres.WithPassword("mentor_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.Open(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, connStr))

	return New(NewPGQuerier(pool), &hashEmbedder{dim: 768}, log.NewNop())
}

func integrationChunks(sessionID, filename string, texts ...string) []chunker.Chunk {
	chunks := make([]chunker.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunker.Chunk{
			ID:         sessionID + "-" + filename + "-" + string(rune('0'+i)),
			Text:       text,
			TokenCount: len(text) / 4,
			ChunkIndex: i,
			Filename:   filename,
			FileType:   "text/plain",
			SessionID:  sessionID,
			ByteSize:   int64(len(text)),
		}
	}
	return chunks
}

func TestIndex_SessionScoping_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupTestDB(t, ctx)

	// 3 chunks under session X, 2 under session Y.
	_, err := store.Add(ctx, integrationChunks("session-x", "x.txt",
		"qualitative research methodology",
		"grounded theory coding procedures",
		"interview transcription guidelines"))
	require.NoError(t, err)

	_, err = store.Add(ctx, integrationChunks("session-y", "y.txt",
		"quantitative survey design",
		"statistical power analysis"))
	require.NoError(t, err)

	// Search under X with k=5: exactly 3 results, none from Y.
	results, err := store.Search(ctx, "research methodology", "session-x", "", 5)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, "session-x", r.SessionID)
	}

	// Relevance is descending and within (0, 1].
	for i, r := range results {
		assert.Greater(t, r.Relevance, 0.0)
		assert.LessOrEqual(t, r.Relevance, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Relevance, r.Relevance)
		}
	}
}

func TestIndex_StatsAndDelete_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupTestDB(t, ctx)

	_, err := store.Add(ctx, integrationChunks("session-z", "notes.txt",
		"first chunk", "second chunk"))
	require.NoError(t, err)
	_, err = store.Add(ctx, integrationChunks("session-z", "draft.txt", "third chunk"))
	require.NoError(t, err)

	stats, err := store.Stats(ctx, "session-z")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, 2, stats.TotalDocuments)

	// Upsert is idempotent: re-adding the same chunks changes nothing.
	_, err = store.Add(ctx, integrationChunks("session-z", "notes.txt",
		"first chunk", "second chunk"))
	require.NoError(t, err)
	stats, err = store.Stats(ctx, "session-z")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChunks)

	// Delete everything, twice; second pass deletes nothing and still succeeds.
	require.NoError(t, store.DeleteAll(ctx, "session-z"))
	require.NoError(t, store.DeleteAll(ctx, "session-z"))

	stats, err = store.Stats(ctx, "session-z")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalChunks)
	assert.Empty(t, stats.Documents)
}
