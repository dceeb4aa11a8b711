package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/money"
	"github.com/xaenox/expense-bot/pkg/config"
)

// GPTResponse is the JSON object the model is asked to answer with.
type GPTResponse struct {
	Category    string          `json:"category"`
	Amount      json.RawMessage `json:"amount"`
	Description string          `json:"description"`
}

type GPTClassifier struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	fallback    *SimpleClassifier
	logger      *zap.Logger
}

func NewGPTClassifier(cfg config.OpenAIConfig, logger *zap.Logger) *GPTClassifier {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &GPTClassifier{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		fallback:    NewSimpleClassifier(),
		logger:      logger.Named("classifier"),
	}
}

// New returns the model-backed classifier when an API key is configured and the
// heuristic one otherwise.
func New(cfg config.OpenAIConfig, logger *zap.Logger) Classifier {
	if cfg.APIKey == "" {
		logger.Warn("No language model API key configured, using heuristic classification")
		return NewSimpleClassifier()
	}
	return NewGPTClassifier(cfg, logger)
}

func (c *GPTClassifier) Classify(ctx context.Context, text string) models.Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return c.fallback.Classify(ctx, trimmed)
	}

	// Without a number there is nothing worth asking the model about.
	if _, ok := money.FirstAmount(trimmed); !ok {
		return models.Classification{
			Category:    DefaultCategory,
			Amount:      decimal.Zero,
			Description: trimmed,
			Source:      models.SourceFallback,
		}
	}

	result, err := c.ask(ctx, trimmed)
	if err != nil {
		c.logger.Warn("Model classification failed, using heuristic",
			zap.Error(err),
			zap.String("text", trimmed))
		return c.fallback.Classify(ctx, trimmed)
	}

	c.logger.Debug("Model classification",
		zap.String("category", result.Category),
		zap.String("amount", money.Format(result.Amount)),
		zap.String("description", result.Description))
	return result
}

func (c *GPTClassifier) ask(ctx context.Context, text string) (models.Classification, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(`You are an expense analyzer. The user wrote: %q.
Extract the category from these categories %s, the amount (as a number) and a short description.
Don't use any other words or context that the user might provide. Just expenses.
Respond only in JSON like this: {"category": "Food", "amount": 10.5, "description": "Pizza"}`,
		text, strings.Join(Categories, ", "))

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		return models.Classification{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Classification{}, errors.New("no completion choices returned")
	}

	return ParseResponse(resp.Choices[0].Message.Content, text)
}

// ParseResponse validates the model answer. A missing description falls back to text.
func ParseResponse(content, text string) (models.Classification, error) {
	var gptResponse GPTResponse
	if err := json.Unmarshal([]byte(cleanMarkdownWrapper(content)), &gptResponse); err != nil {
		return models.Classification{}, fmt.Errorf("parse model response: %w", err)
	}

	if strings.TrimSpace(gptResponse.Category) == "" {
		return models.Classification{}, errors.New("model response has no category")
	}

	raw := strings.Trim(strings.TrimSpace(string(gptResponse.Amount)), `"`)
	if raw == "" || raw == "null" {
		return models.Classification{}, errors.New("model response has no amount")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return models.Classification{}, fmt.Errorf("model response amount %q: %w", raw, err)
	}
	if amount.IsNegative() {
		return models.Classification{}, fmt.Errorf("model response amount %s is negative", raw)
	}

	description := strings.TrimSpace(gptResponse.Description)
	if description == "" {
		description = text
	}

	return models.Classification{
		Category:    NormalizeCategory(gptResponse.Category),
		Amount:      money.Round(amount),
		Description: description,
		Source:      models.SourceModel,
	}, nil
}

// cleanMarkdownWrapper strips ```json fences some models wrap their answer in.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
