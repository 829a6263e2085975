package translate

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/dasmlab/telephone/pkg/catalog"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIClient implements Engine on top of the OpenAI chat completions API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	catalog *catalog.Catalog
	logger  *logrus.Logger
}

// NewOpenAIClient creates a client. baseURL may point at any
// OpenAI-compatible endpoint; empty uses the public API.
func NewOpenAIClient(apiKey, baseURL, model string, logger *logrus.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if logger == nil {
		logger = logrus.New()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		catalog: catalog.Default(),
		logger:  logger,
	}, nil
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Translate translates text from sourceLang to targetLang.
func (c *OpenAIClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	out, err := c.complete(ctx, buildTranslatePrompt(c.catalog, text, sourceLang, targetLang), 0)
	if err != nil {
		return "", err
	}
	out = cleanCompletion(out)
	if out == "" {
		return "", ErrEmptyResponse
	}

	c.logger.WithFields(logrus.Fields{
		"model":       c.model,
		"source_lang": sourceLang,
		"target_lang": targetLang,
	}).Debug("OpenAI translation completed")

	return out, nil
}

// Detect asks the model to identify the language of text.
func (c *OpenAIClient) Detect(ctx context.Context, text string) (Detection, error) {
	if text == "" {
		return Detection{}, ErrEmptyText
	}
	out, err := c.complete(ctx, buildDetectPrompt(text), 50)
	if err != nil {
		return Detection{}, err
	}
	return parseDetection(out)
}

// CheckHealth retrieves the configured model.
func (c *OpenAIClient) CheckHealth(ctx context.Context) error {
	if _, err := c.client.GetModel(ctx, c.model); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
