package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mentor0/mentor/internal/chunker"
	"github.com/mentor0/mentor/internal/config"
	"github.com/mentor0/mentor/internal/database"
	"github.com/mentor0/mentor/internal/index"
	"github.com/mentor0/mentor/internal/llm"
	"github.com/mentor0/mentor/internal/log"
	"github.com/mentor0/mentor/internal/token"
)

var indexSessionID string

var indexCmd = &cobra.Command{
	Use:   "index <file>...",
	Short: "Chunk and index text files into a session",
	Long: `Index reads extracted text files, chunks them, and stores the
embeddings under a session so chat requests against that session can
retrieve them. Pass --session to target an existing session; without it
a new session id is minted and printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(cmd.Context(), args)
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexSessionID, "session", "", "session id to index into")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(ctx context.Context, paths []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{})

	if err := database.Migrate(ctx, cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.Open(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	_, embedder, err := llm.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}

	counter := token.NewCounter(cfg.TokenizerEncoding, logger)
	chk := chunker.New(counter, cfg.ChunkTargetTokens, cfg.ChunkOverlapTokens, logger)
	idx := index.New(index.NewPGQuerier(pool), embedder, logger,
		index.WithEmbedTimeout(cfg.EmbedTimeout))

	sessionID := indexSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
		fmt.Printf("Session: %s\n", sessionID)
	}

	for _, path := range paths {
		content, err := os.ReadFile(path) // #nosec G304 -- paths come from the operator
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		filename := filepath.Base(path)
		fileType := mime.TypeByExtension(filepath.Ext(path))
		if fileType == "" {
			fileType = "text/plain"
		}

		chunks, err := chk.Chunk(string(content), chunker.Metadata{
			Filename:  filename,
			FileType:  fileType,
			SessionID: sessionID,
			ByteSize:  int64(len(content)),
		})
		if err != nil {
			return fmt.Errorf("chunking %s: %w", filename, err)
		}

		ids, err := idx.Add(ctx, chunks)
		if err != nil {
			return fmt.Errorf("indexing %s (%d of %d chunks stored): %w",
				filename, len(ids), len(chunks), err)
		}
		fmt.Printf("Indexed %s: %d chunks\n", filename, len(ids))
	}
	return nil
}
