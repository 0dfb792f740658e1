package middleware

import (
	"context"
	"net/http"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

var supportedLocales = []language.Tag{language.Korean, language.English}

var localeMatcher = language.NewMatcher(supportedLocales)

// Locale picks "ko" or "en" for user-facing messages from X-Locale, then
// Accept-Language, then fallback.
func Locale(fallback string) func(http.Handler) http.Handler {
	if fallback != "en" {
		fallback = "ko"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, fallback)
			w.Header().Set("Content-Language", locale)
			ctx := context.WithValue(r.Context(), localeContextKey{}, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string) string {
	for _, header := range []string{r.Header.Get("X-Locale"), r.Header.Get("Accept-Language")} {
		if header == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(header)
		if err != nil || len(tags) == 0 {
			continue
		}
		_, idx, conf := localeMatcher.Match(tags...)
		if conf == language.No {
			continue
		}
		base, _ := supportedLocales[idx].Base()
		return base.String()
	}
	return fallback
}

// LocaleFromContext returns the negotiated locale, "ko" when unset.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeContextKey{}).(string); ok {
		return v
	}
	return "ko"
}
