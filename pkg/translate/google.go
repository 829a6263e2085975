package translate

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/translate"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"google.golang.org/api/option"

	"github.com/dasmlab/telephone/pkg/catalog"
)

// GoogleClient implements Engine using the Google Cloud Translation API (v2).
type GoogleClient struct {
	client *translate.Client
	mapper *catalog.LanguageMapper
	logger *logrus.Logger
}

// NewGoogleClient creates a Cloud Translation client authenticated with apiKey.
// An empty apiKey falls back to application default credentials.
func NewGoogleClient(ctx context.Context, apiKey string, logger *logrus.Logger) (*GoogleClient, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var opts []option.ClientOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create google translate client: %w", err)
	}

	return &GoogleClient{
		client: client,
		mapper: catalog.NewLanguageMapper(nil),
		logger: logger,
	}, nil
}

// Translate translates text from sourceLang to targetLang.
func (c *GoogleClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	target, err := c.mapper.Tag(targetLang)
	if err != nil {
		return "", err
	}
	source, err := c.mapper.Tag(sourceLang)
	if err != nil {
		return "", err
	}

	startTime := time.Now()
	resp, err := c.client.Translate(ctx, []string{text}, target, &translate.Options{
		Source: source,
		Format: translate.Text,
	})
	if err != nil {
		return "", fmt.Errorf("google translate: %w", err)
	}
	if len(resp) == 0 || resp[0].Text == "" {
		return "", ErrEmptyResponse
	}

	c.logger.WithFields(logrus.Fields{
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Debug("Google translation completed")

	return resp[0].Text, nil
}

// Detect returns the most confident detection Google reports for text.
func (c *GoogleClient) Detect(ctx context.Context, text string) (Detection, error) {
	if text == "" {
		return Detection{}, ErrEmptyText
	}

	resp, err := c.client.DetectLanguage(ctx, []string{text})
	if err != nil {
		return Detection{}, fmt.Errorf("google detect: %w", err)
	}
	if len(resp) == 0 || len(resp[0]) == 0 {
		return Detection{}, ErrEmptyResponse
	}

	best := resp[0][0]
	for _, d := range resp[0][1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return Detection{
		Language:   googleCode(best.Language),
		Confidence: Confidence(best.Confidence),
	}, nil
}

// CheckHealth lists supported languages as a cheap round trip.
func (c *GoogleClient) CheckHealth(ctx context.Context) error {
	if _, err := c.client.SupportedLanguages(ctx, language.English); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *GoogleClient) Close() error {
	return c.client.Close()
}

// googleCode maps the tags Google returns for Chinese back to catalog codes.
func googleCode(tag language.Tag) string {
	switch tag {
	case language.SimplifiedChinese:
		return "zh-cn"
	case language.TraditionalChinese:
		return "zh-tw"
	}
	return tag.String()
}
