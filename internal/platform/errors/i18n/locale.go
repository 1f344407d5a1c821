package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

// MatchLocale picks the registered catalog locale that best serves an
// Accept-Language style value ("fr-CA, en;q=0.8"). Unparseable or unmatched
// values resolve to BaseLocale.
func MatchLocale(accept string) string {
	accept = strings.TrimSpace(accept)
	if accept == "" {
		return BaseLocale
	}
	if _, ok := lookupCatalog(accept); ok {
		return accept
	}
	requested, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(requested) == 0 {
		return BaseLocale
	}

	locales := registeredLocales()
	supported := make([]language.Tag, 0, len(locales))
	names := make([]string, 0, len(locales))
	for _, locale := range locales {
		tag, err := language.Parse(locale)
		if err != nil {
			continue
		}
		supported = append(supported, tag)
		names = append(names, locale)
	}
	if len(supported) == 0 {
		return BaseLocale
	}
	_, index, confidence := language.NewMatcher(supported).Match(requested...)
	if confidence == language.No {
		return BaseLocale
	}
	return names[index]
}

// registeredLocales lists catalog locales with BaseLocale first, so the
// matcher falls back to it.
func registeredLocales() []string {
	catalogsMu.RLock()
	defer catalogsMu.RUnlock()
	out := []string{BaseLocale}
	for locale := range catalogs {
		if locale != BaseLocale {
			out = append(out, locale)
		}
	}
	return out
}
