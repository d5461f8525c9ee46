package wpbot

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

var errNoChoices = errors.New("response has no choices")

// OpenAICompleter 通过 OpenAI Chat Completions 接口生成回复
type OpenAICompleter struct {
	client      *openai.Client
	temperature float64
	maxTokens   int64
}

// NewOpenAICompleter 根据配置创建客户端. 重试由调用方负责, 所以关闭了 SDK 的自动重试.
func NewOpenAICompleter(cfg *Config) *OpenAICompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.OpenAIAPIKey),
		option.WithMaxRetries(0),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}

	client := openai.NewClient(opts...)
	return &OpenAICompleter{
		client:      &client,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Complete 实现 Completer
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    toOpenAIMessages(req.Messages),
		Model:       req.Model,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}

	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Exchange) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text))
		default:
			out = append(out, openai.UserMessage(m.Text))
		}
	}
	return out
}
