package window

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// wordCounter counts one token per whitespace-delimited word, which
// makes budget arithmetic in tests exact.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func (wordCounter) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}

func (wordCounter) Name() string { return "word" }

// msgOfWords builds a message whose content is exactly n words.
func msgOfWords(role Role, n int, ts time.Time) Message {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return Message{Role: role, Content: strings.Join(words, " "), Timestamp: ts}
}

// conversation builds n alternating user/assistant messages of
// wordsEach words, timestamped one minute apart.
func conversation(n, wordsEach int) []Message {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := make([]Message, n)
	for i := range msgs {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs[i] = msgOfWords(role, wordsEach, base.Add(time.Duration(i)*time.Minute))
	}
	return msgs
}

func newTestBuilder(recentWindow, reserve int) *Builder {
	return New(wordCounter{}, recentWindow, reserve, DefaultWeights())
}

func TestBuild_EmptyHistory(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(5, 0)
	win := b.Build(nil, "system", 100)

	if len(win.Messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(win.Messages))
	}
	if win.Truncated {
		t.Error("empty history should not be marked truncated")
	}
	if win.EstimatedTokens != 0 {
		t.Errorf("expected 0 estimated tokens, got %d", win.EstimatedTokens)
	}
}

func TestBuild_FreshChatFitsVerbatim(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(5, 0)
	msgs := conversation(1, 10)

	win := b.Build(msgs, "sys prompt", 200)

	if len(win.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(win.Messages))
	}
	if win.Messages[0].Content != msgs[0].Content {
		t.Error("message content should be verbatim")
	}
	if win.Truncated {
		t.Error("fitting window should not be truncated")
	}
	// 10 message words + 2 system prompt words.
	if win.EstimatedTokens != 12 {
		t.Errorf("expected 12 estimated tokens, got %d", win.EstimatedTokens)
	}
}

func TestBuild_RecentWindowFloor(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(5, 0)
	msgs := conversation(20, 10)

	// Budget exactly covers the 5 recent messages, nothing older fits.
	win := b.Build(msgs, "", 50)

	if len(win.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(win.Messages))
	}
	for i, m := range win.Messages {
		want := msgs[15+i]
		if m.Content != want.Content || m.Timestamp != want.Timestamp {
			t.Errorf("message %d: expected the recent window verbatim", i)
		}
	}
	if win.Truncated {
		t.Error("recent window fit exactly, should not be truncated")
	}
}

func TestBuild_RecentWindowOverflowDropsOldestFirst(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(5, 0)
	msgs := conversation(20, 10)

	// Only 3 of the 5 recent messages fit.
	win := b.Build(msgs, "", 30)

	if len(win.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(win.Messages))
	}
	for i, m := range win.Messages {
		if want := msgs[17+i]; m.Timestamp != want.Timestamp {
			t.Errorf("message %d: expected newest messages kept, oldest dropped", i)
		}
	}
	if !win.Truncated {
		t.Error("cut recent window must be marked truncated")
	}
	if win.EstimatedTokens > 30 {
		t.Errorf("estimated tokens %d exceed budget 30", win.EstimatedTokens)
	}
}

func TestBuild_NewestMessageContentTruncated(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(5, 0)
	msgs := conversation(3, 100)

	win := b.Build(msgs, "", 10)

	if len(win.Messages) != 1 {
		t.Fatalf("expected the newest message alone, got %d messages", len(win.Messages))
	}
	got := win.Messages[0]
	if got.Content == "" {
		t.Fatal("newest message must keep some content")
	}
	if !strings.HasPrefix(msgs[2].Content, got.Content) {
		t.Error("truncated content should be a prefix of the original")
	}
	if n := len(strings.Fields(got.Content)); n > 10 {
		t.Errorf("truncated content spans %d tokens, budget is 10", n)
	}
	if !win.Truncated {
		t.Error("content truncation must be marked")
	}
	// The input slice must not be mutated.
	if len(strings.Fields(msgs[2].Content)) != 100 {
		t.Error("original message was mutated")
	}
}

func TestBuild_SystemPromptAndReserveShrinkHistoryBudget(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(5, 10)
	msgs := conversation(3, 10)

	// 35 total - 5 system - 10 reserve leaves 20 for history: 2 messages.
	win := b.Build(msgs, "a b c d e", 35)
	if len(win.Messages) != 2 {
		t.Fatalf("expected 2 messages under shrunk budget, got %d", len(win.Messages))
	}
	if !win.Truncated {
		t.Error("dropping a recent message must be marked truncated")
	}
	if win.EstimatedTokens != 25 {
		t.Errorf("expected 25 estimated tokens (20 history + 5 system), got %d", win.EstimatedTokens)
	}
}

func TestBuild_RelevantOlderMessageRecalled(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(5, 0)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	msgs := make([]Message, 0, 12)
	for i := 0; i < 11; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		content := fmt.Sprintf("filler chatter number %d about nothing", i)
		if i == 2 {
			content = "transformer attention scales quadratically with sequence"
		}
		msgs = append(msgs, Message{Role: role, Content: content, Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	msgs = append(msgs, Message{
		Role:      RoleUser,
		Content:   "why does transformer attention scale quadratically",
		Timestamp: base.Add(11 * time.Minute),
	})

	// Recent window is the last 5 messages (30 tokens); leave room for
	// exactly one 6-token older message.
	win := b.Build(msgs, "", 37)

	if len(win.Messages) != 6 {
		t.Fatalf("expected 5 recent + 1 recalled, got %d", len(win.Messages))
	}
	if win.Messages[0].Content != msgs[2].Content {
		t.Errorf("expected the attention message recalled first, got %q", win.Messages[0].Content)
	}
	for i := 1; i < len(win.Messages); i++ {
		if win.Messages[i].Timestamp.Before(win.Messages[i-1].Timestamp) {
			t.Fatal("selected messages must be in chronological order")
		}
	}
	if win.Truncated {
		t.Error("nothing in the recent window was cut")
	}
}

func TestBuild_RolePreferenceBreaksEvenBudget(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(2, 0)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Older set: a newer assistant message and an older user message,
	// same size, no keyword overlap with the query. The user turn wins
	// despite lower recency: role 0.3 + recency 0.15 beats 0.1 + 0.3.
	msgs := []Message{
		{Role: RoleUser, Content: "alpha beta gamma delta epsilon", Timestamp: base},
		{Role: RoleAssistant, Content: "one two three four five", Timestamp: base.Add(time.Minute)},
		{Role: RoleUser, Content: "recent question here", Timestamp: base.Add(2 * time.Minute)},
		{Role: RoleAssistant, Content: "recent answer here", Timestamp: base.Add(3 * time.Minute)},
	}

	// 6 recent tokens, budget leaves room for exactly one older message.
	win := b.Build(msgs, "", 11)

	if len(win.Messages) != 3 {
		t.Fatalf("expected 2 recent + 1 older, got %d", len(win.Messages))
	}
	if win.Messages[0].Role != RoleUser || win.Messages[0].Content != msgs[0].Content {
		t.Errorf("expected the user turn recalled, got %v %q", win.Messages[0].Role, win.Messages[0].Content)
	}
}

func TestBuild_DocumentRoleScoredLikeUser(t *testing.T) {
	t.Parallel()

	doc := Message{Role: RoleDocument, Content: "injected source material"}
	asst := Message{Role: RoleAssistant, Content: "injected source material"}

	b := newTestBuilder(5, 0)
	none := map[string]struct{}{}
	if ds, as := b.score(doc, 0, 1, none), b.score(asst, 0, 1, none); ds <= as {
		t.Errorf("document role should outscore assistant: %f <= %f", ds, as)
	}
}

func TestBuild_EstimatedTokensWithinBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		messages []Message
		budget   int
	}{
		{"tight budget", conversation(30, 10), 25},
		{"exact recent fit", conversation(30, 10), 50},
		{"room for history", conversation(30, 10), 120},
		{"everything fits", conversation(8, 5), 1000},
		{"single huge message", conversation(1, 400), 50},
	}

	b := newTestBuilder(5, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			win := b.Build(tt.messages, "", tt.budget)
			if win.EstimatedTokens > tt.budget {
				t.Errorf("estimated %d tokens exceeds budget %d", win.EstimatedTokens, tt.budget)
			}
			if len(win.Messages) == 0 {
				t.Error("non-empty history must yield at least one message")
			}
			for i := 1; i < len(win.Messages); i++ {
				if win.Messages[i].Timestamp.Before(win.Messages[i-1].Timestamp) {
					t.Fatal("output must be chronological")
				}
			}
		})
	}
}

func TestOverlapFraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		text  string
		want  float64
	}{
		{"full overlap", "vector search", "vector search is fast", 1.0},
		{"half overlap", "vector search", "search the archives", 0.5},
		{"no overlap", "vector search", "completely unrelated prose", 0.0},
		{"case and punctuation ignored", "Vector, Search!", "vector search", 1.0},
		{"empty query", "", "anything at all", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := overlapFraction(wordSet(tt.query), tt.text)
			if got != tt.want {
				t.Errorf("overlapFraction(%q, %q) = %f, want %f", tt.query, tt.text, got, tt.want)
			}
		})
	}
}
