// Package window selects the subset of conversation history to send to
// an LLM call under a bounded token budget.
//
// Pure recency-windowing wastes budget on irrelevant small talk when a
// long conversation references an early, highly relevant exchange; pure
// relevance-windowing risks losing immediate conversational continuity.
// The builder guarantees continuity with a hard recent-window floor and
// spends leftover budget on relevance-scored older messages.
//
// The builder is pure and deterministic: failures on well-formed input
// are logic bugs, not runtime conditions.
package window

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/mentor0/mentor/internal/token"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"

	// RoleDocument marks injected retrieval context. Synthetic; never
	// persisted as user-authored.
	RoleDocument Role = "document"
)

// Message is one conversation turn, provider-agnostic.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextWindow is the derived, transient result of a build. Produced
// fresh per request, never persisted.
type ContextWindow struct {
	Messages        []Message
	EstimatedTokens int
	Truncated       bool
}

// Weights tune the relevance score of older messages. Empirically
// chosen defaults; only the presence of some weighted combination of
// recency, overlap, and role matters, not the specific split.
type Weights struct {
	Recency float64 // scaled 0..Recency, linear by position
	Overlap float64 // scaled 0..Overlap, by query keyword fraction
	Role    float64 // Role for user/document turns, Role/3 otherwise
}

// DefaultWeights mirrors the configuration defaults.
func DefaultWeights() Weights {
	return Weights{Recency: 0.3, Overlap: 0.4, Role: 0.3}
}

// Default sizing, overridable via config.
const (
	DefaultRecentWindow    = 5
	DefaultResponseReserve = 500
)

// Builder assembles token-budgeted context windows.
type Builder struct {
	counter         token.Counter
	recentWindow    int
	responseReserve int
	weights         Weights
}

// New creates a Builder. Non-positive recentWindow falls back to the
// default; a negative reserve is treated as zero.
func New(counter token.Counter, recentWindow, responseReserve int, weights Weights) *Builder {
	if recentWindow <= 0 {
		recentWindow = DefaultRecentWindow
	}
	if responseReserve < 0 {
		responseReserve = DefaultResponseReserve
	}
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Builder{
		counter:         counter,
		recentWindow:    recentWindow,
		responseReserve: responseReserve,
		weights:         weights,
	}
}

// Build selects and orders messages to fit the token budget.
//
// The most recent recentWindow messages are a hard floor: whatever the
// scoring decides, they are never dropped in favor of older messages.
// If even the floor exceeds the budget it is cut oldest-first, and the
// single most recent message is content-truncated rather than dropped.
// Leftover budget goes to older messages by descending relevance score,
// re-sorted chronologically before the recent window.
func (b *Builder) Build(messages []Message, systemPrompt string, tokenBudget int) ContextWindow {
	if len(messages) == 0 {
		return ContextWindow{Messages: []Message{}}
	}

	systemTokens := b.counter.Count(systemPrompt)
	historyBudget := tokenBudget - systemTokens - b.responseReserve
	if historyBudget < 0 {
		historyBudget = 0
	}

	split := len(messages) - b.recentWindow
	if split < 0 {
		split = 0
	}
	older := messages[:split]
	recent := messages[split:]

	recentTokens := b.messagesTokens(recent)

	if recentTokens > historyBudget {
		selected, used := b.truncateRecent(recent, historyBudget)
		return ContextWindow{
			Messages:        selected,
			EstimatedTokens: used + systemTokens,
			Truncated:       true,
		}
	}

	remaining := historyBudget - recentTokens
	kept, keptTokens := b.selectOlder(older, messages[len(messages)-1].Content, remaining)

	out := make([]Message, 0, len(kept)+len(recent))
	out = append(out, kept...)
	out = append(out, recent...)

	return ContextWindow{
		Messages:        out,
		EstimatedTokens: recentTokens + keptTokens + systemTokens,
		Truncated:       false,
	}
}

// truncateRecent cuts the recent window oldest-first to fit the budget.
// The newest message is never dropped; when it alone exceeds the budget
// its content is truncated to fit. A budget too small for any content
// is a configuration error and degrades to a minimal one-token tail.
func (b *Builder) truncateRecent(recent []Message, budget int) ([]Message, int) {
	for start := 0; start < len(recent)-1; start++ {
		candidate := recent[start:]
		if tokens := b.messagesTokens(candidate); tokens <= budget {
			return candidate, tokens
		}
	}

	newest := recent[len(recent)-1]
	if tokens := b.counter.Count(newest.Content); tokens <= budget {
		return []Message{newest}, tokens
	}

	if budget < 1 {
		budget = 1
	}
	newest.Content = b.truncateToFit(newest.Content, budget)
	return []Message{newest}, b.counter.Count(newest.Content)
}

// truncateToFit keeps the longest prefix of text within the budget.
func (b *Builder) truncateToFit(text string, budget int) string {
	if b.counter.Count(text) <= budget {
		return text
	}
	// Binary search over byte length; Count is monotonic in prefix length.
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if b.counter.Count(text[:mid]) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return text[:lo]
}

// scoredMessage pairs an older message with its relevance score and
// original position.
type scoredMessage struct {
	index int
	score float64
}

// selectOlder greedily picks older messages by descending score until
// the budget is spent, then restores chronological order.
func (b *Builder) selectOlder(older []Message, query string, budget int) ([]Message, int) {
	if len(older) == 0 || budget <= 0 {
		return nil, 0
	}

	queryWords := wordSet(query)

	scored := make([]scoredMessage, len(older))
	for i, msg := range older {
		scored[i] = scoredMessage{index: i, score: b.score(msg, i, len(older), queryWords)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		// Ties favor the newer message.
		return scored[i].index > scored[j].index
	})

	used := 0
	picked := make([]int, 0, len(scored))
	for _, sm := range scored {
		msgTokens := b.counter.Count(older[sm.index].Content)
		if used+msgTokens > budget {
			continue
		}
		picked = append(picked, sm.index)
		used += msgTokens
	}

	sort.Ints(picked)
	selected := make([]Message, len(picked))
	for i, idx := range picked {
		selected[i] = older[idx]
	}
	return selected, used
}

// score combines recency, query-keyword overlap, and role.
func (b *Builder) score(msg Message, position, total int, queryWords map[string]struct{}) float64 {
	// Newer among the older set scores higher.
	recency := b.weights.Recency * float64(position+1) / float64(total)

	overlap := b.weights.Overlap * overlapFraction(queryWords, msg.Content)

	// Questions and injected document context are worth more than
	// assistant prose.
	role := b.weights.Role / 3
	if msg.Role == RoleUser || msg.Role == RoleDocument {
		role = b.weights.Role
	}

	return recency + overlap + role
}

// overlapFraction returns the fraction of query words present in text.
func overlapFraction(queryWords map[string]struct{}, text string) float64 {
	if len(queryWords) == 0 {
		return 0
	}
	textWords := wordSet(text)
	matched := 0
	for w := range queryWords {
		if _, ok := textWords[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryWords))
}

// wordSet lowercases and strips punctuation from text, returning the
// set of remaining words.
func wordSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// messagesTokens sums the token counts of the given messages.
func (b *Builder) messagesTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += b.counter.Count(m.Content)
	}
	return total
}
