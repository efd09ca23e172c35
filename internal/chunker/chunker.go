// Package chunker splits extracted document text into token-bounded,
// sentence-aligned segments for embedding and retrieval.
//
// Chunks overlap: each chunk after the first is seeded with the trailing
// tokens of its predecessor so retrieval context is not lost at chunk
// boundaries. Text extraction (PDF, DOCX, plain text) happens upstream;
// the chunker only sees UTF-8 text.
package chunker

import (
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/mentor0/mentor/internal/log"
	"github.com/mentor0/mentor/internal/token"
)

// Default sizing, overridable via config.
const (
	DefaultTargetTokens  = 500
	DefaultOverlapTokens = 50
)

// ErrNoContent indicates the document text was empty after extraction.
// Callers must surface this as an error, not a zero-chunk success.
var ErrNoContent = errors.New("document has no extractable content")

// Metadata describes the source document of a chunk batch.
type Metadata struct {
	Filename  string
	FileType  string
	SessionID string
	ByteSize  int64
}

// Chunk is one token-bounded segment of a source document.
// Immutable once created.
type Chunk struct {
	ID         string
	Text       string
	TokenCount int
	ChunkIndex int
	Filename   string
	FileType   string
	SessionID  string
	ByteSize   int64
}

// sentenceEnd matches sentence-terminating punctuation followed by
// whitespace. A language-aware boundary detector would do better on
// abbreviations; this is the documented fallback behavior.
var sentenceEnd = regexp.MustCompile(`([.!?]+)\s+`)

// Chunker splits normalized text into overlapping chunks.
type Chunker struct {
	counter       token.Counter
	targetTokens  int
	overlapTokens int
	logger        log.Logger
}

// New creates a Chunker. Non-positive sizes fall back to the defaults.
func New(counter token.Counter, targetTokens, overlapTokens int, logger log.Logger) *Chunker {
	if targetTokens <= 0 {
		targetTokens = DefaultTargetTokens
	}
	if overlapTokens <= 0 {
		overlapTokens = DefaultOverlapTokens
	}
	return &Chunker{
		counter:       counter,
		targetTokens:  targetTokens,
		overlapTokens: overlapTokens,
		logger:        logger,
	}
}

// Chunk splits text into overlapping, sentence-aligned chunks.
// Returns ErrNoContent for empty or whitespace-only input.
func (c *Chunker) Chunk(text string, meta Metadata) ([]Chunk, error) {
	normalized := normalizeWhitespace(text)
	if normalized == "" {
		return nil, ErrNoContent
	}

	sentences := splitSentences(normalized)

	var chunks []Chunk
	var current strings.Builder
	currentTokens := 0
	seedTokens := 0 // tokens contributed by the overlap seed, excluded from the size check

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunkText := current.String()
		chunks = append(chunks, Chunk{
			ID:         uuid.NewString(),
			Text:       chunkText,
			TokenCount: c.counter.Count(chunkText),
			ChunkIndex: len(chunks),
			Filename:   meta.Filename,
			FileType:   meta.FileType,
			SessionID:  meta.SessionID,
			ByteSize:   meta.ByteSize,
		})

		seed := c.counter.Tail(chunkText, c.overlapTokens)
		current.Reset()
		current.WriteString(seed)
		currentTokens = c.counter.Count(seed)
		seedTokens = currentTokens
	}

	for _, sentence := range sentences {
		sentenceTokens := c.counter.Count(sentence)

		// Close the chunk when adding this sentence would push the
		// non-overlap content past the target. The sentence that
		// triggers the check still lands somewhere, so a chunk may
		// exceed the target by at most one sentence.
		if currentTokens > seedTokens && currentTokens+sentenceTokens > c.targetTokens+seedTokens {
			flush()
		}

		if current.Len() > 0 {
			current.WriteString(" ")
			currentTokens += c.counter.Count(" ")
		}
		current.WriteString(sentence)
		currentTokens += sentenceTokens
	}
	flush()

	c.logger.Debug("chunked document",
		"filename", meta.Filename,
		"session_id", meta.SessionID,
		"sentences", len(sentences),
		"chunks", len(chunks),
		"tokenizer", c.counter.Name())

	return chunks, nil
}

// normalizeWhitespace collapses runs of spaces and newlines into single
// spaces and trims the ends.
func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// splitSentences splits on `.`, `!`, `?` followed by whitespace, keeping
// the punctuation with the preceding sentence. Text without any boundary
// comes back as a single sentence.
func splitSentences(text string) []string {
	indexes := sentenceEnd.FindAllStringSubmatchIndex(text, -1)
	if len(indexes) == 0 {
		return []string{text}
	}

	var sentences []string
	start := 0
	for _, idx := range indexes {
		// idx[3] is the end of the punctuation group; whitespace after
		// it is consumed by the split, matching the normalized form.
		end := idx[3]
		s := strings.TrimSpace(text[start:end])
		if s != "" {
			sentences = append(sentences, s)
		}
		start = idx[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
