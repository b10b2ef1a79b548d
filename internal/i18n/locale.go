// Package i18n renders the transactional emails the backend sends, in the
// locales the product ships.
package i18n

import (
	"net/http"
	"strings"
)

const DefaultLocale = "en"

var supportedLocales = map[string]bool{
	"en": true,
	"de": true,
}

// LocaleFromRequest picks a supported locale from the Accept-Language header,
// falling back to DefaultLocale.
func LocaleFromRequest(r *http.Request) string {
	if r == nil {
		return DefaultLocale
	}
	return NormalizeLocale(r.Header.Get("Accept-Language"))
}

// NormalizeLocale reduces an Accept-Language value to the first supported
// primary language tag. Quality weights are ignored; header order wins.
func NormalizeLocale(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := part
		if i := strings.IndexByte(tag, ';'); i >= 0 {
			tag = tag[:i]
		}
		tag = strings.ToLower(strings.TrimSpace(tag))
		if i := strings.IndexByte(tag, '-'); i >= 0 {
			tag = tag[:i]
		}
		if supportedLocales[tag] {
			return tag
		}
	}
	return DefaultLocale
}
