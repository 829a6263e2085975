package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultLibreTranslateURL is the default base URL for LibreTranslate API.
	DefaultLibreTranslateURL = "http://localhost:5000"
	// DefaultLibreTranslateTimeout bounds a single HTTP exchange. The relay
	// applies its own, shorter per-call timeout on top of this.
	DefaultLibreTranslateTimeout = 2 * time.Minute
)

// LibreTranslateClient implements Engine using LibreTranslate.
// LibreTranslate is a self-hosted, open-source machine translation API.
type LibreTranslateClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewLibreTranslateClient creates a new LibreTranslate client.
// baseURL should point to the LibreTranslate server (default: http://localhost:5000).
func NewLibreTranslateClient(baseURL, apiKey string, logger *logrus.Logger) *LibreTranslateClient {
	if baseURL == "" {
		baseURL = DefaultLibreTranslateURL
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &LibreTranslateClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultLibreTranslateTimeout,
		},
		logger: logger,
	}
}

// libreCodes maps catalog codes to the ones LibreTranslate uses where they differ.
var libreCodes = map[string]string{
	"zh-cn": "zh",
	"zh-tw": "zt",
	"iw":    "he",
	"jw":    "jv",
}

// catalogCodes is the inverse of libreCodes. Hebrew keeps its modern code.
var catalogCodes = map[string]string{
	"zh": "zh-cn",
	"zt": "zh-tw",
	"jv": "jw",
}

func toLibreCode(code string) string {
	if c, ok := libreCodes[code]; ok {
		return c
	}
	return code
}

func fromLibreCode(code string) string {
	code = strings.ToLower(code)
	if c, ok := catalogCodes[code]; ok {
		return c
	}
	return code
}

// translateRequest represents a LibreTranslate API request.
type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"` // e.g., "en"
	Target string `json:"target"` // e.g., "fr"
	Format string `json:"format"` // "text" or "html"
	APIKey string `json:"api_key,omitempty"`
}

// translateResponse represents a LibreTranslate API response.
type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

type detectRequest struct {
	Q      string `json:"q"`
	APIKey string `json:"api_key,omitempty"`
}

// detectResponse is one candidate from /detect. Confidence is 0-100.
type detectResponse struct {
	Language   string   `json:"language"`
	Confidence *float64 `json:"confidence"`
}

// Translate translates text from source language to target language.
func (c *LibreTranslateClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	c.logger.WithFields(logrus.Fields{
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"text_length": len(text),
	}).Debug("Translating text with LibreTranslate")

	var ltResp translateResponse
	err := c.post(ctx, "/translate", translateRequest{
		Q:      text,
		Source: toLibreCode(sourceLang),
		Target: toLibreCode(targetLang),
		Format: "text",
		APIKey: c.apiKey,
	}, &ltResp)
	if err != nil {
		return "", err
	}
	if ltResp.TranslatedText == "" {
		return "", ErrEmptyResponse
	}

	return ltResp.TranslatedText, nil
}

// Detect asks LibreTranslate for the most likely language of text.
func (c *LibreTranslateClient) Detect(ctx context.Context, text string) (Detection, error) {
	if text == "" {
		return Detection{}, ErrEmptyText
	}

	var candidates []detectResponse
	if err := c.post(ctx, "/detect", detectRequest{Q: text, APIKey: c.apiKey}, &candidates); err != nil {
		return Detection{}, err
	}
	if len(candidates) == 0 || candidates[0].Language == "" {
		return Detection{}, ErrEmptyResponse
	}

	best := candidates[0]
	det := Detection{Language: fromLibreCode(best.Language)}
	if best.Confidence != nil {
		det.Confidence = Confidence(*best.Confidence / 100)
	}

	c.logger.WithFields(logrus.Fields{
		"language":   det.Language,
		"candidates": len(candidates),
	}).Debug("LibreTranslate detection completed")

	return det, nil
}

// post sends a JSON request to path and decodes the JSON answer into out.
func (c *LibreTranslateClient) post(ctx context.Context, path string, payload, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		c.logger.WithError(err).Error("Failed to encode LibreTranslate request")
		return fmt.Errorf("encode request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"url": url,
		}).Warn("LibreTranslate request failed")
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"path":        path,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Debug("LibreTranslate request completed")

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WithFields(logrus.Fields{
			"path":        path,
			"status_code": resp.StatusCode,
			"response":    string(bodyBytes),
		}).Warn("LibreTranslate returned non-OK status")
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(se.Body), "not supported") {
			return fmt.Errorf("%w: %w", ErrUnsupportedLanguage, se)
		}
		return se
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// languageResponse is one entry of GET /languages.
type languageResponse struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Targets []string `json:"targets"`
}

// SupportedLanguages implements LanguageLister. Codes are returned in
// catalog form.
func (c *LibreTranslateClient) SupportedLanguages(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/languages", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var langs []languageResponse
	if err := json.NewDecoder(resp.Body).Decode(&langs); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	codes := make([]string, 0, len(langs)+1)
	for _, l := range langs {
		code := fromLibreCode(l.Code)
		codes = append(codes, code)
		if code == "he" {
			codes = append(codes, "iw")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"languages": len(codes),
	}).Debug("LibreTranslate languages listed")

	return codes, nil
}

// CheckHealth verifies that LibreTranslate is ready and operational.
func (c *LibreTranslateClient) CheckHealth(ctx context.Context) error {
	c.logger.Debug("Checking LibreTranslate health")

	// Use the /languages endpoint as a health check
	url := c.baseURL + "/languages"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"url": url,
		}).Error("Health check request failed")
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
		}).Error("Health check returned non-OK status")
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	c.logger.Debug("LibreTranslate health check passed")
	return nil
}
