package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
)

// Domain errors for the inference package.
var (
	// ErrEmptyCompletion is returned when the engine produced no text.
	ErrEmptyCompletion = errors.New("inference: empty completion")

	// ErrEngine is returned when the engine call failed.
	ErrEngine = errors.New("inference: engine call failed")
)

// DefaultSystemPrompt instructs the model to emit exactly one command object.
const DefaultSystemPrompt = "You control a smart home. Translate the user's request into exactly one JSON command " +
	"allowed by the grammar. If the request does not match any device, answer with " +
	`{"action": "unrecognized"}.`

// Request is one constrained completion.
type Request struct {
	Model   string
	Grammar string
	System  string
	Prompt  string
}

// Engine performs grammar-constrained completion.
type Engine interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// OpenAIEngine is an Engine backed by an OpenAI-compatible server.
type OpenAIEngine struct {
	client      openai.Client
	maxTokens   int64
	temperature float64
	system      string
}

// NewOpenAIEngine builds an engine from configuration.
func NewOpenAIEngine(cfg config.InferenceConfig) *OpenAIEngine {
	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		// Local servers ignore the key but the client requires one.
		opts = append(opts, option.WithAPIKey("none"))
	}

	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &OpenAIEngine{
		client:      openai.NewClient(opts...),
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
		system:      system,
	}
}

// Complete sends the grammar and prompt and returns the first choice.
func (e *OpenAIEngine) Complete(ctx context.Context, req Request) (string, error) {
	system := req.System
	if system == "" {
		system = e.system
	}

	params := openai.ChatCompletionNewParams{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(req.Prompt),
		},
		Temperature: param.NewOpt(e.temperature),
	}
	if e.maxTokens > 0 {
		params.MaxTokens = param.NewOpt(e.maxTokens)
	}
	params.SetExtraFields(map[string]any{"grammar": req.Grammar})

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrEngine, ctx.Err())
		}
		return "", fmt.Errorf("%w: %w", ErrEngine, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
