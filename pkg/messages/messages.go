// Package messages renders the user-facing texts carried in relay events.
package messages

import (
	"embed"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

// Message ids.
const (
	RelayStarted           = "relay.started"
	RelayDetectionFallback = "relay.detection_fallback"
	RelayProgress          = "relay.progress"
	RelayUnavailable       = "relay.unavailable"
	RequestInvalidJSON     = "request.invalid_json"
	RequestEmptyText       = "request.empty_text"
	RequestTextTooLong     = "request.text_too_long"
)

//go:embed active.*.toml
var localeFS embed.FS

// Catalog is a thin wrapper around go-i18n's Bundle/Localizer.
type Catalog struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
	logger          *logrus.Logger
}

// New builds a Catalog from the embedded active.*.toml files using the given
// default locale (e.g. "en").
func New(defaultLocale string, logger *logrus.Logger) *Catalog {
	if logger == nil {
		logger = logrus.New()
	}
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, file := range []string{"active.en.toml", "active.fr.toml"} {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"file": file,
			}).Error("Failed to load message file")
		}
	}

	return &Catalog{
		bundle:          bundle,
		defaultLanguage: tag,
		logger:          logger,
	}
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns a shared English catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog = New("en", nil)
	})
	return defaultCatalog
}

// T renders the message identified by key for the given locale.
// If the key/locale is not found, it falls back to the default locale,
// then finally to the key itself.
func (c *Catalog) T(locale, key string, data map[string]any) string {
	if key == "" {
		return ""
	}

	languages := []string{}
	if locale != "" {
		languages = append(languages, locale)
	}
	languages = append(languages, c.defaultLanguage.String())

	localizer := i18n.NewLocalizer(c.bundle, languages...)
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"key":     key,
			"locales": languages,
		}).Warn("Localize failed")
		return key
	}
	return msg
}
