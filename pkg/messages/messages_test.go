package messages

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietCatalog(locale string) *Catalog {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(locale, logger)
}

func TestCatalogT(t *testing.T) {
	c := quietCatalog("en")

	tests := []struct {
		name   string
		locale string
		key    string
		data   map[string]any
		want   string
	}{
		{"english status", "en", RelayStarted, nil, "Translation started"},
		{"english progress", "", RelayProgress, map[string]any{"Name": "french", "Code": "fr"}, "Translating to french (fr)..."},
		{"english fallback", "en", RelayDetectionFallback, map[string]any{"Language": "English"}, "Could not detect language confidently. Defaulting to English."},
		{"french status", "fr", RelayStarted, nil, "Traduction commencée"},
		{"regional locale", "fr-CA", RequestInvalidJSON, nil, "Format JSON invalide"},
		{"unknown locale", "de", RequestInvalidJSON, nil, "Invalid JSON format"},
		{"too long", "en", RequestTextTooLong, map[string]any{"Max": 5000}, "Text is longer than 5000 characters"},
		{"unknown key", "en", "no.such.key", nil, "no.such.key"},
		{"empty key", "en", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.T(tt.locale, tt.key, tt.data); got != tt.want {
				t.Errorf("T(%q, %q) = %q, want %q", tt.locale, tt.key, got, tt.want)
			}
		})
	}
}

func TestDefaultLocaleFallback(t *testing.T) {
	c := quietCatalog("fr")
	if got := c.T("", RequestEmptyText, nil); got != "Le texte ne doit pas être vide" {
		t.Errorf("T() = %q, want French default", got)
	}

	c = quietCatalog("not a locale!")
	if got := c.T("", RelayStarted, nil); got != "Translation started" {
		t.Errorf("T() = %q, want English for an invalid default", got)
	}
}

func TestDefaultIsShared(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different catalogs")
	}
}
