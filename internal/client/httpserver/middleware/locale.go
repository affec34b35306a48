package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/i18n"
)

type localeContextKey struct{}

const langCookie = "hl"

// Locale resolves the display language from the ?hl= override, the hl cookie or Accept-Language,
// in that order, and stores it on the request context.
func Locale(bundle *i18n.Bundle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := ""
			if q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("hl"))); q != "" && bundle.IsSupported(q) {
				lang = q
				http.SetCookie(w, &http.Cookie{Name: langCookie, Value: q, Path: "/", SameSite: http.SameSiteLaxMode})
			} else if c, err := r.Cookie(langCookie); err == nil && bundle.IsSupported(strings.ToLower(c.Value)) {
				lang = strings.ToLower(c.Value)
			} else {
				lang = bundle.Resolve(r.Header.Get("Accept-Language"))
			}

			w.Header().Set("Content-Language", lang)
			w.Header().Add("Vary", "Accept-Language")
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), localeContextKey{}, lang)))
		})
	}
}

// LangFromContext returns the resolved language, or an empty string when Locale did not run.
func LangFromContext(ctx context.Context) string {
	if lang, ok := ctx.Value(localeContextKey{}).(string); ok {
		return lang
	}
	return ""
}
