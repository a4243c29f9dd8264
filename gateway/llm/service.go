// Package llm wraps an OpenAI-compatible chat API behind a two-tier
// service: a small model for classification and short phatic replies,
// and a large model for substantive response generation.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Tier selects which model handles a call.
type Tier int

const (
	// TierSmall is the cheap model used for classification and phatic replies.
	TierSmall Tier = iota
	// TierLarge is the full model used for substantive responses.
	TierLarge
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Block is one segment of a composed system prompt. Cacheable blocks are
// stable across calls for the same contact and are placed first so
// providers with prompt caching can reuse them.
type Block struct {
	Text      string
	Cacheable bool
}

// CallStats represents statistics for a single LLM call.
type CallStats struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	CacheReadTokens  int    `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int    `json:"cache_write_tokens,omitempty"`
	TotalDurationMs  int64  `json:"total_duration_ms"`
	Model            string `json:"model"`
}

// Service is the LLM service interface.
type Service interface {
	// Chat performs a synchronous chat on the given tier. Returns content,
	// statistics, and error.
	Chat(ctx context.Context, tier Tier, messages []Message) (string, *CallStats, error)

	// Warmup sends a lightweight ping to establish the connection.
	Warmup(ctx context.Context)
}

// Config represents LLM service configuration.
type Config struct {
	Provider    string // openai, deepseek, zai, openrouter, ollama
	APIKey      string
	BaseURL     string
	SmallModel  string
	LargeModel  string
	MaxTokens   int     // default: 1024
	Temperature float32 // default: 0.7
	Timeout     int     // Request timeout in seconds (default: 120)
}

type service struct {
	client      *openai.Client
	provider    string
	smallModel  string
	largeModel  string
	maxTokens   int
	temperature float32
	timeout     int
}

// NewService creates a new LLM Service.
func NewService(cfg *Config) (Service, error) {
	if cfg.SmallModel == "" || cfg.LargeModel == "" {
		return nil, fmt.Errorf("both small and large models must be configured")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}

	return &service{
		client:      openai.NewClientWithConfig(clientConfig),
		provider:    cfg.Provider,
		smallModel:  cfg.SmallModel,
		largeModel:  cfg.LargeModel,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
	}, nil
}

func (s *service) modelFor(tier Tier) string {
	if tier == TierLarge {
		return s.largeModel
	}
	return s.smallModel
}

func (s *service) Chat(ctx context.Context, tier Tier, messages []Message) (string, *CallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	model := s.modelFor(tier)
	slog.Debug("llm chat request",
		"model", model,
		"messages_count", len(messages),
	)

	startTime := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("llm chat request failed", "model", model, "error", err)
		return "", nil, fmt.Errorf("llm chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("empty response from llm")
	}

	totalDuration := time.Since(startTime)
	stats := &CallStats{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		TotalDurationMs:  totalDuration.Milliseconds(),
		Model:            model,
	}
	if resp.Usage.PromptTokensDetails != nil && resp.Usage.PromptTokensDetails.CachedTokens > 0 {
		stats.CacheReadTokens = resp.Usage.PromptTokensDetails.CachedTokens
		stats.CacheWriteTokens = resp.Usage.PromptTokens - resp.Usage.PromptTokensDetails.CachedTokens
	}

	slog.Debug("llm chat response received",
		"model", model,
		"total_tokens", stats.TotalTokens,
		"duration_ms", stats.TotalDurationMs,
	)

	return resp.Choices[0].Message.Content, stats, nil
}

func (s *service) Warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	startTime := time.Now()
	req := openai.ChatCompletionRequest{
		Model:       s.smallModel,
		MaxTokens:   1,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
	}
	_, err := s.client.CreateChatCompletion(warmupCtx, req)
	if err != nil {
		slog.Warn("llm warmup ping failed, first request may be slower",
			"provider", s.provider,
			"error", err,
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
		return
	}
	slog.Info("llm connection warm",
		"provider", s.provider,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
}

// ComposeSystem joins prompt blocks into a single system message in
// their given order. The Cacheable flag marks blocks that stay stable
// across calls for the same contact; providers with prompt caching
// benefit from keeping them early and identical.
func ComposeSystem(blocks []Block) Message {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return Message{Role: "system", Content: strings.Join(parts, "\n\n")}
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		llmMessages[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return llmMessages
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// SystemPrompt is a helper for creating system messages.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserPrompt is a helper for creating user messages.
func UserPrompt(content string) Message {
	return Message{Role: "user", Content: content}
}
