package middleware

import (
	"context"
	"net/http"
	"strings"
)

type htmxKey struct{}

// HTMXInfo is the part of the HX-* request headers the login screen reacts to.
type HTMXInfo struct {
	IsHTMX bool
	// TriggerName is the name attribute of the input that fired the request.
	TriggerName string
}

// HTMX records whether a request came from htmx and marks every response as varying on it.
func HTMX() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "HX-Request")
			info := HTMXInfo{
				IsHTMX:      strings.EqualFold(r.Header.Get("HX-Request"), "true"),
				TriggerName: r.Header.Get("HX-Trigger-Name"),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), htmxKey{}, info)))
		})
	}
}

// HTMXInfoFromContext returns the zero value outside the HTMX middleware.
func HTMXInfoFromContext(ctx context.Context) HTMXInfo {
	info, _ := ctx.Value(htmxKey{}).(HTMXInfo)
	return info
}

// IsHTMXRequest reports whether htmx issued the request.
func IsHTMXRequest(ctx context.Context) bool {
	return HTMXInfoFromContext(ctx).IsHTMX
}

// Redirect navigates the browser to target. htmx requests get an HX-Redirect header with
// htmxStatus; plain form posts get a 303.
func Redirect(w http.ResponseWriter, r *http.Request, target string, htmxStatus int) {
	if IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(htmxStatus)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// SkipMainSwap tells htmx to drop the response's primary swap while still applying its
// out-of-band elements.
func SkipMainSwap(w http.ResponseWriter) {
	w.Header().Set("HX-Reswap", "none")
}

// RequireHTMX hides fragment routes from direct navigation behind a 404.
func RequireHTMX() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsHTMXRequest(r.Context()) {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
