// Package llm provides the annotator gateway built on langchaingo.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/dkratky/casecoder/internal/config"
	"github.com/dkratky/casecoder/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Default models per provider, used when neither the request nor the server
// config names one.
var defaultModels = map[config.Provider]string{
	config.ProviderOpenAI:    "gpt-4o",
	config.ProviderAnthropic: "claude-3-5-sonnet-20241022",
	config.ProviderGoogleAI:  "gemini-2.0-flash",
	config.ProviderOllama:    "llama3",
	config.ProviderBedrock:   "anthropic.claude-3-5-sonnet-20241022-v2:0",
}

const maxAttempts = 3

// Backoff delays between retries. Throttling windows usually span a minute,
// so rate-limit waits are longer than the plain server-error ones.
var (
	serverErrorWaits = []time.Duration{5 * time.Second, 30 * time.Second}
	rateLimitWaits   = []time.Duration{30 * time.Second, 60 * time.Second}
)

// Model wraps a langchaingo LLM as an annotator backend.
type Model struct {
	llm       llms.Model
	provider  config.Provider
	modelName string
	metrics   *metrics.Collector
}

// NewModel creates an annotator for the given provider. An empty model name
// falls back to cfg.Model and then to the provider default. The metrics
// collector may be nil.
func NewModel(ctx context.Context, cfg config.Config, provider config.Provider, modelName string, mc *metrics.Collector) (*Model, error) {
	if modelName == "" {
		modelName = cfg.Model
	}
	if modelName == "" {
		modelName = defaultModels[provider]
	}

	var model llms.Model
	var err error

	switch provider {
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderGoogleAI:
		if cfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("Google API key required")
		}
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(cfg.GoogleAPIKey),
			googleai.WithDefaultModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create googleai model: %w", err)
		}

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(modelName),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderBedrock:
		if cfg.BedrockModelID != "" && modelName == defaultModels[config.ProviderBedrock] {
			modelName = cfg.BedrockModelID
		}
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx)
		if awsErr != nil {
			return nil, fmt.Errorf("load AWS config: %w", awsErr)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		model, err = bedrock.New(
			bedrock.WithClient(client),
			bedrock.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported annotator provider: %s", provider)
	}

	return &Model{
		llm:       model,
		provider:  provider,
		modelName: modelName,
		metrics:   mc,
	}, nil
}

// Name returns a provider/model identifier for logging and events.
func (m *Model) Name() string {
	return string(m.provider) + "/" + m.modelName
}

// Annotate sends one system+user prompt pair and returns the raw completion
// text. Rate limits and transient upstream failures are retried with backoff;
// fatal API errors (billing, bad credentials) are wrapped with ErrFatalAPI
// and returned immediately.
func (m *Model) Annotate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		response, err := m.llm.GenerateContent(ctx, messages)
		duration := time.Since(start)

		if err == nil {
			if len(response.Choices) == 0 {
				return "", fmt.Errorf("no response choices")
			}
			content := response.Choices[0].Content
			if m.metrics != nil {
				m.metrics.RecordAnnotatorUsage(metrics.OpAnnotate, duration,
					int64(len(systemPrompt)+len(userPrompt)), int64(len(content)))
			}
			return content, nil
		}

		if fatal := wrapFatalError(err); isFatalAPIError(err) {
			slog.Error("annotator call failed fatally", "model", m.Name(), "error", err)
			return "", fatal
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}

		var wait time.Duration
		switch {
		case isRateLimitError(err):
			wait = rateLimitWaits[min(attempt, len(rateLimitWaits)-1)]
		case isServerError(err):
			wait = serverErrorWaits[min(attempt, len(serverErrorWaits)-1)]
		default:
			return "", fmt.Errorf("generate: %w", err)
		}

		slog.Warn("annotator call failed, retrying",
			"model", m.Name(), "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("generate: %w", lastErr)
}
