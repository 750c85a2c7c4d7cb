// Package i18n localizes user-facing error messages.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var (
	builder = catalog.NewBuilder(catalog.Fallback(language.AmericanEnglish))
	matcher language.Matcher
)

func init() {
	register(language.AmericanEnglish, enUS)
	matcher = language.NewMatcher([]language.Tag{language.AmericanEnglish})
}

func register(tag language.Tag, messages map[string]string) {
	for key, msg := range messages {
		_ = builder.SetString(tag, key, msg)
	}
}

// Lookup renders the user-facing message for an error code in the closest
// matching locale. Unregistered codes render as the code itself.
func Lookup(locale, code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, _ := language.MatchStrings(matcher, locale)
	printer := message.NewPrinter(tag, message.Catalog(builder))
	return printer.Sprintf(code)
}
