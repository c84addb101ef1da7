// Package llmclient is a thin OpenAI-compatible chat client used by the
// agent loop's Decide phase. It is modeled directly on the teacher's LLM
// provider abstraction (role-tagged messages, a single chat-completion
// call) wired through the teacher's actual OpenAI SDK dependency.
package llmclient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"

	"mechos/internal/logging"
	"mechos/internal/mechtypes"
)

// Role mirrors the three roles the chat-completions API accepts.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the conversation sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Client is an OpenAI-compatible chat completion client.
type Client struct {
	model    string
	client   openai.Client
}

// New constructs a Client. endpoint overrides the default OpenAI base URL
// when set (for self-hosted or proxy-compatible endpoints); httpClient may
// be nil to use the SDK's default.
func New(endpoint, apiKey, model string, httpClient *http.Client) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Client{model: model, client: openai.NewClient(opts...)}
}

// Complete calls the chat-completions endpoint with messages and returns the
// first choice's raw content, expected by the agent loop to be one JSON
// object describing a HardwareIntent. Failures wrap into
// mechtypes.KindLlmInferenceFailed.
func (c *Client) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	var params []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}

	logger := logging.PhaseLogger(ctx, "decide")
	if raw, err := json.Marshal(messages); err == nil {
		logger.Debug().RawJSON("request", logging.RedactJSON(raw)).Str("model", c.model).Msg("llmclient: chat completion request")
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    params,
		Temperature: param.NewOpt(temperature),
	})
	if err != nil {
		return "", mechtypes.Wrap(mechtypes.KindLlmInferenceFailed, err.Error(), err)
	}
	if len(resp.Choices) == 0 {
		return "", mechtypes.NewLlmInferenceFailed("no choices returned")
	}

	content := resp.Choices[0].Message.Content
	if raw, err := json.Marshal(struct {
		Content string `json:"content"`
	}{content}); err == nil {
		logger.Debug().RawJSON("response", logging.RedactJSON(raw)).Msg("llmclient: chat completion response")
	}
	return content, nil
}
