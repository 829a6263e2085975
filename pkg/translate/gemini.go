package translate

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/dasmlab/telephone/pkg/catalog"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiClient implements Engine using the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	catalog *catalog.Catalog
	logger  *logrus.Logger
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *logrus.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if logger == nil {
		logger = logrus.New()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		model:   model,
		catalog: catalog.Default(),
		logger:  logger,
	}, nil
}

func (c *GeminiClient) generate(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini api error: %w", err)
	}
	return resp.Text(), nil
}

// Translate translates text from sourceLang to targetLang.
func (c *GeminiClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	out, err := c.generate(ctx, buildTranslatePrompt(c.catalog, text, sourceLang, targetLang), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.3),
	})
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
	}).Debug("Gemini translation completed")

	return out, nil
}

// Detect asks the model for a JSON detection verdict.
func (c *GeminiClient) Detect(ctx context.Context, text string) (Detection, error) {
	if text == "" {
		return Detection{}, ErrEmptyText
	}
	out, err := c.generate(ctx, buildDetectPrompt(text), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return Detection{}, err
	}
	return parseDetection(out)
}

// CheckHealth fetches the configured model's metadata.
func (c *GeminiClient) CheckHealth(ctx context.Context) error {
	if _, err := c.client.Models.Get(ctx, c.model, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
