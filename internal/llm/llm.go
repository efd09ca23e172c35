// Package llm provisions genkit and adapts formatted payloads into
// model calls. The engine depends only on its Generator interface;
// this package is the sole place that knows which plugin backs which
// provider.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"

	"github.com/mentor0/mentor/internal/config"
	"github.com/mentor0/mentor/internal/log"
	"github.com/mentor0/mentor/internal/provider"
)

// Client calls the configured model through genkit.
type Client struct {
	g           *genkit.Genkit
	modelPrefix string
	logger      log.Logger
}

// Setup initializes genkit with the plugin matching the configured
// provider and returns the generation client plus the embedder the
// vector index uses.
//
// The gemini provider uses the GoogleAI plugin (GEMINI_API_KEY is read
// by genkit directly). The completion and generic providers run against
// a local Ollama server, which needs explicit model and embedder
// registration.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*Client, ai.Embedder, error) {
	logger = logger.With("component", "llm")

	switch cfg.Provider {
	case config.ProviderGemini:
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit",
			"provider", cfg.Provider,
			"model", cfg.ModelName)
		return &Client{g: g, modelPrefix: "googleai/", logger: logger},
			googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel), nil

	default: // completion, generic
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, nil, fmt.Errorf("initializing genkit with %s provider", cfg.Provider)
		}
		// Ollama has no auto-discovery; models must be registered.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit",
			"provider", cfg.Provider,
			"model", cfg.ModelName,
			"host", cfg.OllamaHost)
		return &Client{g: g, modelPrefix: "ollama/", logger: logger},
			ollama.Embedder(g, cfg.OllamaHost), nil
	}
}

// Generate runs one completion for the formatted payload and returns
// the generated text.
func (c *Client) Generate(ctx context.Context, payload provider.Payload, model string) (string, error) {
	messages, system := toMessages(payload)

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelPrefix + model),
		ai.WithMessages(messages...),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generate with %s%s: %w", c.modelPrefix, model, err)
	}
	return resp.Text(), nil
}

// toMessages converts a provider payload into genkit messages plus an
// optional first-class system prompt. Each payload shape carries the
// system prompt its own way, so only the generic shape yields one here.
func toMessages(payload provider.Payload) ([]*ai.Message, string) {
	switch payload.Provider {
	case provider.Gemini:
		msgs := make([]*ai.Message, 0, len(payload.Gemini.Contents))
		for _, content := range payload.Gemini.Contents {
			parts := make([]*ai.Part, len(content.Parts))
			for i, p := range content.Parts {
				parts[i] = ai.NewTextPart(p.Text)
			}
			if content.Role == "user" {
				msgs = append(msgs, ai.NewUserMessage(parts...))
			} else {
				msgs = append(msgs, ai.NewModelMessage(parts...))
			}
		}
		return msgs, ""

	case provider.Completion:
		// The flattened prompt is a single user turn; the trailing cue
		// asks the model to continue as the assistant.
		return []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart(payload.Completion.Prompt)),
		}, ""

	default:
		var system string
		msgs := make([]*ai.Message, 0, len(payload.Generic.Messages))
		for _, m := range payload.Generic.Messages {
			switch m.Role {
			case "system":
				system = m.Content
			case "user":
				msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(m.Content)))
			default:
				msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(m.Content)))
			}
		}
		return msgs, system
	}
}
