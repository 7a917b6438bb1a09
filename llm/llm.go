package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

var (
	ErrLlmBackendRequestFailed = errors.New("llm back-end request failed")
	ErrNoChoices               = errors.New("no choices in LLM response")
	ErrEmptyCaption            = errors.New("LLM returned an empty caption")
)

const maxCaptionLength = 1024

type LlmConnector struct {
	client    *openai.Client
	model     string
	templates *TemplateProcessor
	timeout   time.Duration
}

func NewConnector(baseUrl string, token string, model string, templates *TemplateProcessor, timeout time.Duration) *LlmConnector {
	config := openai.DefaultConfig(token)
	if baseUrl != "" {
		config.BaseURL = baseUrl
	}

	client := openai.NewClientWithConfig(config)

	return &LlmConnector{
		client:    client,
		model:     model,
		templates: templates,
		timeout:   timeout,
	}
}

// Caption asks the model for a short caption of the picture called title.
func (l *LlmConnector) Caption(ctx context.Context, title string) (string, error) {
	prompt, err := l.templates.ProcessCaptionTemplate(title)
	if err != nil {
		slog.Error("llm: Cannot render caption prompt", "error", err)

		return "", err
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: title,
			},
		},
	}

	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("llm: LLM back-end request failed", "error", err)

		return "", errors.Join(ErrLlmBackendRequestFailed, err)
	}

	slog.Debug("llm: Received LLM back-end response", "response", resp)

	if len(resp.Choices) < 1 {
		slog.Error("llm: LLM back-end reply has no choices")

		return "", ErrNoChoices
	}

	caption := strings.TrimSpace(resp.Choices[0].Message.Content)
	if caption == "" {
		return "", ErrEmptyCaption
	}

	if runes := []rune(caption); len(runes) > maxCaptionLength {
		caption = string(runes[:maxCaptionLength])
	}

	return caption, nil
}

// HasModel checks that the configured model is served by the back-end.
func (l *LlmConnector) HasModel(ctx context.Context) bool {
	model, err := l.client.GetModel(ctx, l.model)
	if err != nil {
		slog.Error("llm: Model request failed", "model", l.model, "error", err)

		return false
	}

	slog.Debug("llm: Returned model", "model", model)

	return model.ID != ""
}
