package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telegram-pig-bot/config"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTemplates(t *testing.T) *TemplateProcessor {
	t.Helper()

	templates, err := NewTemplateProcessor(config.LLMConfig{
		CaptionPrompt: "Caption \"{{.Title}}\" in {{.Language}}.",
		Language:      "Chinese",
	})
	require.NoError(t, err)

	return templates
}

func completionServer(t *testing.T, content string, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			if seen != nil {
				require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{
					{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/models/caption-model"):
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(openai.Model{ID: "caption-model"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func TestTemplateProcessor_Caption(t *testing.T) {
	prompt, err := newTestTemplates(t).ProcessCaptionTemplate("小猪")
	require.NoError(t, err)

	assert.Equal(t, "Caption \"小猪\" in Chinese.", prompt)
}

func TestNewTemplateProcessor_InvalidTemplate(t *testing.T) {
	_, err := NewTemplateProcessor(config.LLMConfig{CaptionPrompt: "{{.Title"})
	assert.Error(t, err)
}

func TestConnector_Caption(t *testing.T) {
	var seen openai.ChatCompletionRequest
	server := completionServer(t, "  a very round pig  ", &seen)

	connector := NewConnector(server.URL+"/v1", "token", "caption-model", newTestTemplates(t), time.Second)

	caption, err := connector.Caption(context.Background(), "小猪")
	require.NoError(t, err)

	assert.Equal(t, "a very round pig", caption)
	assert.Equal(t, "caption-model", seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "Caption \"小猪\" in Chinese.", seen.Messages[0].Content)
	assert.Equal(t, "小猪", seen.Messages[1].Content)
}

func TestConnector_EmptyCaption(t *testing.T) {
	server := completionServer(t, "   ", nil)
	connector := NewConnector(server.URL+"/v1", "token", "caption-model", newTestTemplates(t), time.Second)

	_, err := connector.Caption(context.Background(), "pig")
	assert.ErrorIs(t, err, ErrEmptyCaption)
}

func TestConnector_BackendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	connector := NewConnector(server.URL+"/v1", "token", "caption-model", newTestTemplates(t), time.Second)

	_, err := connector.Caption(context.Background(), "pig")
	assert.ErrorIs(t, err, ErrLlmBackendRequestFailed)
}

func TestConnector_HasModel(t *testing.T) {
	server := completionServer(t, "", nil)

	assert.True(t, NewConnector(server.URL+"/v1", "token", "caption-model", newTestTemplates(t), 0).HasModel(context.Background()))
	assert.False(t, NewConnector(server.URL+"/v1", "token", "missing", newTestTemplates(t), 0).HasModel(context.Background()))
}
