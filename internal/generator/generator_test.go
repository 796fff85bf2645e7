package generator_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/generator"
)

var comment = generator.Context{
	TaskID:      "task-1",
	Platform:    "x",
	Kind:        domain.KindComment,
	Destination: "https://x.com/jane/status/1",
	Style:       "curious",
}

// chatServer answers every chat completion with the given choice.
func chatServer(t *testing.T, content, finish, refusal string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": finish,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
					"refusal": refusal,
				},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOpenAI(t *testing.T, srv *httptest.Server) *generator.OpenAI {
	t.Helper()
	g, err := generator.NewOpenAI(generator.OpenAIConfig{
		BaseURL: srv.URL + "/v1",
		APIKey:  "test",
		Model:   "gpt-4o-mini",
		Styles:  map[string]string{"curious": "Ask one genuine question."},
	})
	require.NoError(t, err)
	return g
}

func TestOpenAI_Generate(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, `"Interesting take. How did you measure the p99?"`, "stop", "", &body)

	text, err := newOpenAI(t, srv).Generate(context.Background(), comment)
	require.NoError(t, err)
	assert.Equal(t, "Interesting take. How did you measure the p99?", text, "wrapping quotes are stripped")

	assert.Equal(t, "gpt-4o-mini", body["model"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	system := msgs[0].(map[string]any)["content"].(string)
	assert.Contains(t, system, "Ask one genuine question.")
	assert.Contains(t, msgs[1].(map[string]any)["content"], comment.Destination)
}

func TestOpenAI_RefusalsWrapErrRefused(t *testing.T) {
	tests := []struct {
		name, content, finish, refusal string
	}{
		{"refusal field", "", "stop", "I can't help with that."},
		{"content filter", "", "content_filter", ""},
		{"refusal text", "I'm sorry, but I can't write that message.", "stop", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := chatServer(t, tc.content, tc.finish, tc.refusal, nil)
			_, err := newOpenAI(t, srv).Generate(context.Background(), comment)
			assert.ErrorIs(t, err, domain.ErrRefused)
		})
	}
}

func TestOpenAI_EmptyContentIsTransient(t *testing.T) {
	srv := chatServer(t, "   ", "stop", "", nil)
	_, err := newOpenAI(t, srv).Generate(context.Background(), comment)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrRefused))
}

func TestOpenAI_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded","type":"server_error"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newOpenAI(t, srv).Generate(context.Background(), comment)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrRefused))
}

func TestNewOpenAI_RequiresModel(t *testing.T) {
	_, err := generator.NewOpenAI(generator.OpenAIConfig{APIKey: "k"})
	assert.Error(t, err)
}

func TestTemplate_Generate(t *testing.T) {
	g, err := generator.NewTemplate(map[string]string{
		"default": "Thanks for sharing!",
		"intro":   "Hi {{.Destination}}, I work on {{.Platform}} tooling and wanted to say hello.",
	})
	require.NoError(t, err)

	text, err := g.Generate(context.Background(), generator.Context{Platform: "linkedin", Destination: "@jane", Style: "intro"})
	require.NoError(t, err)
	assert.Equal(t, "Hi @jane, I work on linkedin tooling and wanted to say hello.", text)

	text, err = g.Generate(context.Background(), generator.Context{Style: "unknown"})
	require.NoError(t, err)
	assert.Equal(t, "Thanks for sharing!", text)
}

func TestTemplate_NoDefaultRefuses(t *testing.T) {
	g, err := generator.NewTemplate(map[string]string{"intro": "hello"})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), generator.Context{Style: "other"})
	assert.ErrorIs(t, err, domain.ErrRefused)
}

func TestNewTemplate_ParseError(t *testing.T) {
	_, err := generator.NewTemplate(map[string]string{"bad": "{{.Destination"})
	assert.Error(t, err)
}

func TestContextFor(t *testing.T) {
	task := &domain.Task{
		ID:     "t1",
		Target: domain.Target{Platform: "x", Destination: "@a", Kind: domain.KindDirectMessage},
		Style:  "warm",
	}
	gc := generator.ContextFor(task)
	assert.Equal(t, "x", gc.Platform)
	assert.Equal(t, domain.KindDirectMessage, gc.Kind)
	assert.Equal(t, "warm", gc.Style)
}
