// Package token provides token counting for prompt budgeting.
//
// Counting is an ordered chain of strategies: a real BPE tokenizer
// (tiktoken) when the encoding data is available, falling back to a
// character-based estimate. The chunker, window builder, and index all
// share one Counter so budgets are measured consistently.
package token

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mentor0/mentor/internal/log"
)

// DefaultEncoding is used when no encoding is configured.
// cl100k_base covers the GPT-4/embedding-3 family and is a reasonable
// approximation for other modern subword vocabularies.
const DefaultEncoding = "cl100k_base"

// charsPerToken is the fallback estimate: ~4 characters per token for
// English prose.
const charsPerToken = 4

// Counter counts tokens in text and extracts token-aligned suffixes.
type Counter interface {
	// Count returns the number of tokens in text.
	Count(text string) int

	// Tail returns the suffix of text spanning at most n tokens.
	Tail(text string, n int) string

	// Name identifies the active strategy, for logging.
	Name() string
}

// NewCounter builds the counting chain: tiktoken for the given encoding
// first, heuristic estimation if the encoding cannot be loaded. The
// fallback is logged once at construction, not per call.
func NewCounter(encoding string, logger log.Logger) Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	c, err := NewTiktoken(encoding)
	if err != nil {
		logger.Warn("tokenizer unavailable, falling back to character estimate",
			"encoding", encoding,
			"error", err)
		return NewHeuristic()
	}
	return c
}

// tiktokenCounter counts with a real BPE tokenizer.
type tiktokenCounter struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// NewTiktoken creates a Counter backed by the named tiktoken encoding.
func NewTiktoken(encoding string) (Counter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &tiktokenCounter{enc: enc, encoding: encoding}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c *tiktokenCounter) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	ids := c.enc.Encode(text, nil, nil)
	if len(ids) <= n {
		return text
	}
	return c.enc.Decode(ids[len(ids)-n:])
}

func (c *tiktokenCounter) Name() string {
	return "tiktoken/" + c.encoding
}

// heuristicCounter estimates tokens as len(text)/4.
type heuristicCounter struct{}

// NewHeuristic creates the character-estimate Counter.
func NewHeuristic() Counter {
	return heuristicCounter{}
}

func (heuristicCounter) Count(text string) int {
	return len(text) / charsPerToken
}

// Tail approximates a token-aligned suffix with whitespace-delimited
// words, one word per token.
func (heuristicCounter) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}

func (heuristicCounter) Name() string {
	return "heuristic"
}
