package llm

import (
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/mentor0/mentor/internal/provider"
	"github.com/mentor0/mentor/internal/window"
)

func TestToMessages_Gemini(t *testing.T) {
	t.Parallel()

	payload := provider.Format([]window.Message{
		{Role: window.RoleUser, Content: "question"},
		{Role: window.RoleAssistant, Content: "answer"},
	}, "be brief", provider.Gemini)

	msgs, system := toMessages(payload)

	// System prompt travels inside the synthetic leading exchange, not
	// as a first-class system message.
	if system != "" {
		t.Errorf("gemini payload should not yield a system prompt, got %q", system)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != ai.RoleUser || msgs[1].Role != ai.RoleModel {
		t.Error("synthetic system exchange must lead as user/model")
	}
	if msgs[2].Role != ai.RoleUser || msgs[3].Role != ai.RoleModel {
		t.Error("conversation roles mismapped")
	}
}

func TestToMessages_CompletionIsSingleUserTurn(t *testing.T) {
	t.Parallel()

	payload := provider.Format([]window.Message{
		{Role: window.RoleUser, Content: "hello"},
	}, "sys", provider.Completion)

	msgs, system := toMessages(payload)

	if system != "" {
		t.Errorf("completion payload should not yield a system prompt, got %q", system)
	}
	if len(msgs) != 1 || msgs[0].Role != ai.RoleUser {
		t.Fatalf("expected one user turn, got %d messages", len(msgs))
	}
	if got := msgs[0].Content[0].Text; got != payload.Completion.Prompt {
		t.Errorf("prompt text = %q, want the flattened prompt", got)
	}
}

func TestToMessages_GenericLiftsSystemPrompt(t *testing.T) {
	t.Parallel()

	payload := provider.Format([]window.Message{
		{Role: window.RoleUser, Content: "question"},
		{Role: window.RoleAssistant, Content: "answer"},
	}, "be thorough", provider.Generic)

	msgs, system := toMessages(payload)

	if system != "be thorough" {
		t.Errorf("system = %q, want the configured prompt", system)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after lifting the system entry, got %d", len(msgs))
	}
	if msgs[0].Role != ai.RoleUser || msgs[1].Role != ai.RoleModel {
		t.Error("generic roles mismapped")
	}
}
