package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollamaapi "github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"fable-server/internal/prompt"
)

// Pricing used for cost estimation when the provider reports token usage.
const (
	pricePerMillionInputTokensUSD  = 0.1
	pricePerMillionOutputTokensUSD = 0.4
)

// ErrProviderCallFailed marks a single provider attempt failure. The
// orchestrator moves on to the next ranked provider when it sees it.
var ErrProviderCallFailed = errors.New("provider call failed")

// GenerationParams are per-call sampling settings. Pointers distinguish
// "not set" from zero.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// UsageInfo carries token usage and estimated cost of one provider call.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
}

// Provider is one ranked text-generation backend. Each variant implements a
// single call; there is no shared state between providers.
type Provider interface {
	Name() string
	Generate(ctx context.Context, p prompt.PromptSet, params GenerationParams) (string, UsageInfo, error)
}

func calculateCost(promptTokens, completionTokens int) float64 {
	inputCost := float64(promptTokens) * pricePerMillionInputTokensUSD / 1_000_000.0
	outputCost := float64(completionTokens) * pricePerMillionOutputTokensUSD / 1_000_000.0
	return inputCost + outputCost
}

// estimateTokens approximates token counts with tiktoken when a provider does
// not return usage. Falls back to zero when no tokenizer is available for the
// model.
func estimateTokens(model, system, user, completion string) UsageInfo {
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tke, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return UsageInfo{}
		}
	}
	promptTokens := len(tke.Encode(system, nil, nil)) + len(tke.Encode(user, nil, nil))
	completionTokens := len(tke.Encode(completion, nil, nil))
	return UsageInfo{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		EstimatedCostUSD: calculateCost(promptTokens, completionTokens),
	}
}

// --- OpenAI-compatible provider ---

type openAIProvider struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIProvider creates a provider backed by an OpenAI-compatible chat
// completion endpoint (OpenAI, OpenRouter, DeepSeek, ...).
func NewOpenAIProvider(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) Provider {
	cfg := openaigo.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &openAIProvider{
		client: openaigo.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.Named("OpenAIProvider"),
	}
}

func (c *openAIProvider) Name() string { return "openai" }

func (c *openAIProvider) Generate(ctx context.Context, p prompt.PromptSet, params GenerationParams) (string, UsageInfo, error) {
	if strings.TrimSpace(p.System) == "" {
		return "", UsageInfo{}, fmt.Errorf("%w: system prompt is empty", ErrProviderCallFailed)
	}

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: p.System},
	}
	if p.User != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleUser,
			Content: p.User,
		})
	}

	startTime := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Chat completion request failed", zap.Duration("duration", duration), zap.Error(err))
		recordRequest(c.Name(), c.model, "error", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrProviderCallFailed, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		c.logger.Warn("Chat completion returned empty response", zap.Duration("duration", duration))
		recordRequest(c.Name(), c.model, "error_empty_response", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: empty response", ErrProviderCallFailed)
	}

	generatedText := resp.Choices[0].Message.Content

	usage := UsageInfo{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage = estimateTokens(c.model, p.System, p.User, generatedText)
	} else {
		usage.EstimatedCostUSD = calculateCost(usage.PromptTokens, usage.CompletionTokens)
	}

	recordRequest(c.Name(), c.model, "success", duration)
	recordUsage(c.Name(), c.model, usage)
	c.logger.Debug("Chat completion succeeded",
		zap.Duration("duration", duration),
		zap.Int("response_chars", len(generatedText)),
		zap.Int("total_tokens", usage.TotalTokens))

	return generatedText, usage, nil
}

// --- Ollama provider ---

type ollamaProvider struct {
	client *ollamaapi.Client
	model  string
	logger *zap.Logger
}

// NewOllamaProvider creates a provider backed by a local or remote Ollama
// server. Ollama runs local models; the estimated cost is always zero.
func NewOllamaProvider(baseURL, model string, timeout time.Duration, logger *zap.Logger) (Provider, error) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(baseURL, "/v1"), "/")
	parsedURL, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ollama base URL '%s': %w", trimmed, err)
	}
	client := ollamaapi.NewClient(parsedURL, &http.Client{Timeout: timeout})
	return &ollamaProvider{
		client: client,
		model:  model,
		logger: logger.Named("OllamaProvider"),
	}, nil
}

func (c *ollamaProvider) Name() string { return "ollama" }

func (c *ollamaProvider) Generate(ctx context.Context, p prompt.PromptSet, params GenerationParams) (string, UsageInfo, error) {
	if strings.TrimSpace(p.System) == "" {
		return "", UsageInfo{}, fmt.Errorf("%w: system prompt is empty", ErrProviderCallFailed)
	}

	messages := []ollamaapi.Message{
		{Role: "system", Content: p.System},
	}
	if p.User != "" {
		messages = append(messages, ollamaapi.Message{Role: "user", Content: p.User})
	}

	options := map[string]interface{}{}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}

	stream := false
	req := &ollamaapi.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	startTime := time.Now()
	var resp ollamaapi.ChatResponse
	err := c.client.Chat(ctx, req, func(r ollamaapi.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("Ollama request timed out", zap.Duration("duration", duration), zap.Error(err))
		} else {
			c.logger.Warn("Ollama request failed", zap.Duration("duration", duration), zap.Error(err))
		}
		recordRequest(c.Name(), c.model, "error", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrProviderCallFailed, err)
	}
	if resp.Message.Content == "" {
		c.logger.Warn("Ollama returned empty response", zap.Duration("duration", duration))
		recordRequest(c.Name(), c.model, "error_empty_response", duration)
		return "", UsageInfo{}, fmt.Errorf("%w: empty response", ErrProviderCallFailed)
	}

	usage := UsageInfo{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		EstimatedCostUSD: 0,
	}

	recordRequest(c.Name(), c.model, "success", duration)
	recordUsage(c.Name(), c.model, usage)
	c.logger.Debug("Ollama chat succeeded",
		zap.Duration("duration", duration),
		zap.Int("response_chars", len(resp.Message.Content)))

	return resp.Message.Content, usage, nil
}

func float32Val(f64 *float64) float32 {
	if f64 == nil {
		return 1.0
	}
	return float32(*f64)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
