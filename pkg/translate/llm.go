package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dasmlab/telephone/pkg/catalog"
)

// Prompts shared by the chat-model engines. The models are asked for bare
// output so the relay's length validation sees only the translation.
const (
	translatePrompt = "Translate the following text from %s to %s. " +
		"Respond with only the translation, nothing else.\n\n%s"
	detectPrompt = "Identify the language of the following text. " +
		`Respond with only a JSON object of the form {"language": "<ISO 639-1 code>", "confidence": <number between 0 and 1>}.` +
		"\n\n%s"
)

func buildTranslatePrompt(cat *catalog.Catalog, text, sourceLang, targetLang string) string {
	return fmt.Sprintf(translatePrompt,
		cat.NameOr(sourceLang, sourceLang),
		cat.NameOr(targetLang, targetLang),
		text)
}

func buildDetectPrompt(text string) string {
	return fmt.Sprintf(detectPrompt, text)
}

// cleanCompletion strips whitespace and a single pair of wrapping quotes
// that chat models tend to add around short answers.
func cleanCompletion(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

type llmDetection struct {
	Language   string   `json:"language"`
	Confidence *float64 `json:"confidence"`
}

// parseDetection decodes a model's detection answer. Markdown code fences
// around the JSON are tolerated.
func parseDetection(raw string) (Detection, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var d llmDetection
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return Detection{}, fmt.Errorf("decode detection %q: %w", raw, err)
	}
	if d.Language == "" {
		return Detection{}, ErrEmptyResponse
	}

	det := Detection{Language: strings.ToLower(d.Language)}
	if d.Confidence != nil {
		c := *d.Confidence
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		det.Confidence = Confidence(c)
	}
	return det, nil
}
