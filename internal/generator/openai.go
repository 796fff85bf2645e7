package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	// Styles maps a task style to extra system instructions.
	Styles map[string]string `mapstructure:"styles"`
}

// refusalPrefixes are openings models use when declining a request.
var refusalPrefixes = []string{
	"i can't help",
	"i cannot help",
	"i can't assist",
	"i cannot assist",
	"i'm sorry, but i can't",
	"i'm sorry, but i cannot",
	"i won't be able to",
}

// OpenAI generates content through chat completions.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	openaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	openaiCfg.HTTPClient = &http.Client{Timeout: timeout}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	return &OpenAI{client: openai.NewClientWithConfig(openaiCfg), cfg: cfg}, nil
}

func (g *OpenAI) Generate(ctx context.Context, gc Context) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt(gc)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(gc)},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusBadRequest && apiErr.Code == "content_filter" {
			return "", fmt.Errorf("%w: %s", domain.ErrRefused, apiErr.Message)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("%w: %s", domain.ErrRefused, choice.Message.Refusal)
	}
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", fmt.Errorf("%w: content filtered", domain.ErrRefused)
	}
	text := clean(choice.Message.Content)
	if text == "" {
		return "", errors.New("chat completion returned empty content")
	}
	if isRefusal(text) {
		return "", fmt.Errorf("%w: %q", domain.ErrRefused, text)
	}
	return text, nil
}

func (g *OpenAI) systemPrompt(gc Context) string {
	var b strings.Builder
	switch gc.Kind {
	case domain.KindDirectMessage:
		b.WriteString("You write short, personal direct messages for " + gc.Platform + ". ")
		b.WriteString("Two to three sentences, no links, no hashtags, no sign-off.")
	default:
		b.WriteString("You write short replies to public posts on " + gc.Platform + ". ")
		b.WriteString("One or two sentences that add something specific to the discussion. No hashtags, no emojis.")
	}
	if extra, ok := g.cfg.Styles[gc.Style]; ok {
		b.WriteString("\n")
		b.WriteString(extra)
	} else if gc.Style != "" {
		b.WriteString("\nTone: " + gc.Style + ".")
	}
	b.WriteString("\nReply with the message text only.")
	return b.String()
}

func userPrompt(gc Context) string {
	if gc.Kind == domain.KindDirectMessage {
		return "Write a direct message to " + gc.Destination + "."
	}
	return "Write a reply to the post at " + gc.Destination + "."
}

// clean strips the wrapping quotes models often add.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func isRefusal(s string) bool {
	lower := strings.ToLower(strings.ReplaceAll(s, "’", "'"))
	for _, p := range refusalPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
