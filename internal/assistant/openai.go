package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultOpenAIModel  = "gpt-4o-mini"
	defaultSystemPrompt = "You are a customer support agent replying in a chat inbox. Answer briefly, in the customer's language."
)

// OpenAIAssistant generates replies with a chat completion. History maps onto
// user/assistant turns; the response is reported as {"reply_text": ...}.
type OpenAIAssistant struct {
	client       openai.Client
	model        string
	systemPrompt string
}

// OpenAIConfig configures NewOpenAI.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

func NewOpenAI(cfg OpenAIConfig) *OpenAIAssistant {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	return &OpenAIAssistant{
		client:       openai.NewClient(opts...),
		model:        model,
		systemPrompt: prompt,
	}
}

func (a *OpenAIAssistant) Name() string { return "openai" }

func (a *OpenAIAssistant) Invoke(ctx context.Context, req Request) (Response, error) {
	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.model),
		Messages: a.messages(req),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &Error{Kind: kindForStatus(apiErr.StatusCode), Status: apiErr.StatusCode, Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	if len(completion.Choices) == 0 {
		return nil, &Error{Kind: KindMalformed, Err: fmt.Errorf("completion %s has no choices", completion.ID)}
	}

	return Response{
		"reply_text":    completion.Choices[0].Message.Content,
		"model":         completion.Model,
		"finish_reason": completion.Choices[0].FinishReason,
	}, nil
}

func (a *OpenAIAssistant) messages(req Request) []openai.ChatCompletionMessageParamUnion {
	prompt := a.systemPrompt
	if req.Language != "" && req.Language != "auto" {
		prompt += " Reply in language: " + req.Language + "."
	}
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(prompt)}

	// The triggering message is normally the newest history entry already.
	last := ""
	for _, h := range req.History {
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		switch h.Sender {
		case "user":
			msgs = append(msgs, openai.UserMessage(h.Text))
			last = h.Text
		case "agent":
			msgs = append(msgs, openai.AssistantMessage(h.Text))
			last = ""
		}
	}
	if last != req.MessageText {
		msgs = append(msgs, openai.UserMessage(req.MessageText))
	}
	return msgs
}
