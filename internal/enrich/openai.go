package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const notePrompt = `
You are a social planner writing one short note for two friends who just booked time together.
Rules:
1. One or two sentences, warm and low-pressure.
2. Never mention calendars, availability, or scheduling mechanics.
3. Respect the location type and vibe.
Output JSON: {"note": "..."}

Details:
%s
`

type noteResult struct {
	Note string `json:"note"`
}

// OpenAIConfig configures the OpenAI renderer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// RequestsPerMinute caps outbound calls; zero means unlimited.
	RequestsPerMinute int
	Timeout           time.Duration
}

func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:             openai.GPT4oMini,
		RequestsPerMinute: 60,
		Timeout:           10 * time.Second,
	}
}

// OpenAI renders notes with a chat completion.
type OpenAI struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("enrich: openai api key required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = base
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.GPT4oMini
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		limiter: limiter,
		timeout: cfg.Timeout,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Render(ctx context.Context, in Context) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("enrich: rate limit: %w", err)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	details, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(notePrompt, details)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.7,
	})
	if err != nil {
		return "", fmt.Errorf("enrich: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyRender
	}
	var out noteResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return "", fmt.Errorf("enrich: parse note: %w", err)
	}
	if strings.TrimSpace(out.Note) == "" {
		return "", ErrEmptyRender
	}
	return strings.TrimSpace(out.Note), nil
}
