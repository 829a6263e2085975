package translate

import (
	"strings"
	"testing"

	"github.com/dasmlab/telephone/pkg/catalog"
)

func TestParseDetection(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantLang string
		wantConf *float64
		wantErr  bool
	}{
		{
			name:     "plain json",
			raw:      `{"language": "DE", "confidence": 0.97}`,
			wantLang: "de",
			wantConf: Confidence(0.97),
		},
		{
			name:     "fenced json",
			raw:      "```json\n{\"language\": \"fr\", \"confidence\": 0.8}\n```",
			wantLang: "fr",
			wantConf: Confidence(0.8),
		},
		{
			name:     "no confidence",
			raw:      `{"language": "es"}`,
			wantLang: "es",
		},
		{
			name:     "confidence clamped",
			raw:      `{"language": "it", "confidence": 97}`,
			wantLang: "it",
			wantConf: Confidence(1),
		},
		{
			name:    "not json",
			raw:     "It is French.",
			wantErr: true,
		},
		{
			name:    "missing language",
			raw:     `{"confidence": 0.5}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := parseDetection(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", det)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if det.Language != tt.wantLang {
				t.Errorf("Language = %q, want %q", det.Language, tt.wantLang)
			}
			switch {
			case tt.wantConf == nil && det.Confidence != nil:
				t.Errorf("Confidence = %v, want nil", *det.Confidence)
			case tt.wantConf != nil && det.Confidence == nil:
				t.Errorf("Confidence = nil, want %v", *tt.wantConf)
			case tt.wantConf != nil && *det.Confidence != *tt.wantConf:
				t.Errorf("Confidence = %v, want %v", *det.Confidence, *tt.wantConf)
			}
		})
	}
}

func TestCleanCompletion(t *testing.T) {
	tests := map[string]string{
		"  Bonjour  ":    "Bonjour",
		`"Bonjour"`:      "Bonjour",
		`'Hallo Welt'`:   "Hallo Welt",
		`"unbalanced`:    `"unbalanced`,
		"\n\"Ciao\"\n":   "Ciao",
		`""`:             "",
		"plain sentence": "plain sentence",
	}
	for in, want := range tests {
		if got := cleanCompletion(in); got != want {
			t.Errorf("cleanCompletion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildTranslatePromptUsesLanguageNames(t *testing.T) {
	prompt := buildTranslatePrompt(catalog.Default(), "hello", "en", "fr")
	if !strings.Contains(prompt, "from english to french") {
		t.Errorf("prompt does not name languages: %q", prompt)
	}
	if !strings.HasSuffix(prompt, "hello") {
		t.Errorf("prompt does not end with the text: %q", prompt)
	}
}
