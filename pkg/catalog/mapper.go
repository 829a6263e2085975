package catalog

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// aliases maps codes detectors report to the catalog's Chinese entries.
var aliases = map[string]string{
	"zh":      "zh-cn",
	"zh-hans": "zh-cn",
	"zh-sg":   "zh-cn",
	"zh-hant": "zh-tw",
	"zh-hk":   "zh-tw",
	"zh-mo":   "zh-tw",
	"zt":      "zh-tw",
}

// LanguageMapper converts between the codes engines and clients report
// (BCP 47 tags, ISO 639-1/3, regional variants) and catalog codes.
type LanguageMapper struct {
	catalog *Catalog
}

// NewLanguageMapper creates a mapper resolving codes against c.
// A nil catalog uses Default().
func NewLanguageMapper(c *Catalog) *LanguageMapper {
	if c == nil {
		c = Default()
	}
	return &LanguageMapper{catalog: c}
}

// ToBackendCode converts a reported language code to catalog form.
// Examples:
//   - "EN" -> "en"
//   - "zh-CN" -> "zh-cn"
//   - "zh-Hant" -> "zh-tw"
//   - "en-US" -> "en"
//   - "eng" -> "en"
//
// Codes the catalog does not know are returned lowercased and reduced to
// their base language.
func (lm *LanguageMapper) ToBackendCode(code string) string {
	lang := strings.ToLower(strings.TrimSpace(code))
	if lang == "" {
		return ""
	}
	lang = strings.ReplaceAll(lang, "_", "-")
	if lm.catalog.Contains(lang) {
		return lang
	}
	if alias, ok := aliases[lang]; ok && lm.catalog.Contains(alias) {
		return alias
	}
	if strings.HasPrefix(lang, "zh-hans-") {
		return lm.ToBackendCode("zh-hans")
	}
	if strings.HasPrefix(lang, "zh-hant-") {
		return lm.ToBackendCode("zh-hant")
	}

	base := lang
	if idx := strings.Index(lang, "-"); idx >= 0 {
		base = lang[:idx]
	}
	if lm.catalog.Contains(base) {
		return base
	}

	tag, err := language.Parse(lang)
	if err != nil {
		return base
	}
	b, _ := tag.Base()
	return b.String()
}

// Tag returns the BCP 47 tag for a catalog code.
func (lm *LanguageMapper) Tag(code string) (language.Tag, error) {
	switch strings.ToLower(code) {
	case "zh-cn":
		return language.SimplifiedChinese, nil
	case "zh-tw":
		return language.TraditionalChinese, nil
	}
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, fmt.Errorf("parse language %q: %w", code, err)
	}
	return tag, nil
}
