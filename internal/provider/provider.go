// Package provider renders a selected message set and system prompt
// into the wire shape each LLM provider expects.
//
// Providers form a small closed set rather than an open registry:
// every variant is a tag on one Payload union, and Format switches on
// the tag. All functions are pure; network calls and response parsing
// belong to the caller.
package provider

import (
	"strings"

	"github.com/mentor0/mentor/internal/window"
)

// ID names a supported provider wire format.
type ID string

const (
	// Gemini expects alternating user/model turns wrapped in a parts
	// structure, with no first-class system role.
	Gemini ID = "gemini"

	// Completion expects a single flattened prompt string with role
	// labels and a trailing cue for the model to continue.
	Completion ID = "completion"

	// Generic is a plain {role, content} list with a leading system
	// entry. Unknown provider IDs fall back to it.
	Generic ID = "generic"
)

// ParseID resolves a configured provider name, falling back to Generic
// for anything unrecognized.
func ParseID(s string) ID {
	switch ID(strings.ToLower(strings.TrimSpace(s))) {
	case Gemini:
		return Gemini
	case Completion:
		return Completion
	default:
		return Generic
	}
}

// Payload is the tagged union of provider request fragments. Exactly
// one branch matching Provider is non-nil.
type Payload struct {
	Provider   ID
	Gemini     *GeminiPayload
	Completion *CompletionPayload
	Generic    *GenericPayload
}

// GeminiPart is one text part of a Gemini content entry.
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiContent is one turn in a Gemini request, role "user" or
// "model".
type GeminiContent struct {
	Role  string       `json:"role"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPayload is the contents fragment of a Gemini generate request.
type GeminiPayload struct {
	Contents []GeminiContent `json:"contents"`
}

// CompletionPayload is a flattened prompt for plain completion
// endpoints.
type CompletionPayload struct {
	Prompt string `json:"prompt"`
}

// GenericMessage is a provider-neutral chat message.
type GenericMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenericPayload is the fallback request fragment.
type GenericPayload struct {
	Messages []GenericMessage `json:"messages"`
}

// Role labels used by the flattened completion format.
const (
	completionUserLabel      = "User"
	completionAssistantLabel = "Assistant"
	completionContextLabel   = "Context"
)

// Format renders messages and a system prompt for the given provider.
// Unknown IDs render the Generic shape.
func Format(messages []window.Message, systemPrompt string, id ID) Payload {
	switch id {
	case Gemini:
		return Payload{Provider: Gemini, Gemini: formatGemini(messages, systemPrompt)}
	case Completion:
		return Payload{Provider: Completion, Completion: formatCompletion(messages, systemPrompt)}
	default:
		return Payload{Provider: Generic, Generic: formatGeneric(messages, systemPrompt)}
	}
}

// formatGemini maps roles onto Gemini's user/model vocabulary. The
// system prompt becomes a synthetic leading exchange since Gemini has
// no system role, and consecutive same-role turns are merged into one
// content entry so turns strictly alternate.
func formatGemini(messages []window.Message, systemPrompt string) *GeminiPayload {
	p := &GeminiPayload{}

	if systemPrompt != "" {
		p.Contents = append(p.Contents,
			GeminiContent{Role: "user", Parts: []GeminiPart{{Text: systemPrompt}}},
			GeminiContent{Role: "model", Parts: []GeminiPart{{Text: "Understood."}}},
		)
	}

	for _, msg := range messages {
		role := geminiRole(msg.Role)
		if n := len(p.Contents); n > 0 && p.Contents[n-1].Role == role {
			p.Contents[n-1].Parts = append(p.Contents[n-1].Parts, GeminiPart{Text: msg.Content})
			continue
		}
		p.Contents = append(p.Contents, GeminiContent{
			Role:  role,
			Parts: []GeminiPart{{Text: msg.Content}},
		})
	}

	return p
}

// geminiRole maps internal roles to Gemini's vocabulary. Retrieval
// context reads as user-supplied material; anything unrecognized is a
// model turn.
func geminiRole(r window.Role) string {
	switch r {
	case window.RoleUser, window.RoleDocument:
		return "user"
	default:
		return "model"
	}
}

// formatCompletion flattens the conversation into labeled prose with a
// trailing cue for the model to continue.
func formatCompletion(messages []window.Message, systemPrompt string) *CompletionPayload {
	var b strings.Builder

	if systemPrompt != "" {
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}

	for _, msg := range messages {
		b.WriteString(completionLabel(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	b.WriteString(completionAssistantLabel)
	b.WriteString(":")

	return &CompletionPayload{Prompt: b.String()}
}

func completionLabel(r window.Role) string {
	switch r {
	case window.RoleUser:
		return completionUserLabel
	case window.RoleDocument:
		return completionContextLabel
	default:
		return completionAssistantLabel
	}
}

// formatGeneric keeps the neutral shape with a leading system entry.
func formatGeneric(messages []window.Message, systemPrompt string) *GenericPayload {
	p := &GenericPayload{Messages: make([]GenericMessage, 0, len(messages)+1)}

	if systemPrompt != "" {
		p.Messages = append(p.Messages, GenericMessage{Role: "system", Content: systemPrompt})
	}

	for _, msg := range messages {
		p.Messages = append(p.Messages, GenericMessage{
			Role:    genericRole(msg.Role),
			Content: msg.Content,
		})
	}

	return p
}

func genericRole(r window.Role) string {
	switch r {
	case window.RoleUser, window.RoleDocument:
		return "user"
	case window.RoleSystem:
		return "system"
	default:
		return "assistant"
	}
}
