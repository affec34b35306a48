package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/observability"
)

type csrfContextKey string

const csrfTokenContextKey csrfContextKey = "csrf.token"

const (
	defaultCSRFHeader = "X-CSRF-Token"
	defaultCSRFField  = "csrf_token"
)

// CSRFConfig controls where the token is read from and how rejections are answered.
type CSRFConfig struct {
	HeaderName string
	FieldName  string
	// OnFailure answers rejected requests. Defaults to a bare 403.
	OnFailure http.Handler
}

// CSRF enforces a synchronizer token stored in the request session. Every request gets a
// token issued into its context; unsafe methods must echo it back in the header or form field.
// Must run after Session.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	headerName := cfg.HeaderName
	if headerName == "" {
		headerName = defaultCSRFHeader
	}
	fieldName := cfg.FieldName
	if fieldName == "" {
		fieldName = defaultCSRFField
	}
	onFailure := cfg.OnFailure
	if onFailure == nil {
		onFailure = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}

			if isUnsafeMethod(r.Method) {
				expected := sess.CSRFToken()
				submitted := r.Header.Get(headerName)
				if submitted == "" {
					submitted = r.PostFormValue(fieldName)
				}
				if expected == "" || submitted == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) != 1 {
					observability.FromContext(r.Context()).Warn("csrf token rejected",
						zap.Bool("token_present", submitted != ""),
						zap.Bool("session_has_token", expected != ""),
					)
					onFailure.ServeHTTP(w, r)
					return
				}
			}

			token, err := sess.EnsureCSRFToken()
			if err != nil {
				http.Error(w, "csrf token error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), csrfTokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CSRFTokenFromContext returns the token issued for the current request (to embed in forms or meta tags).
func CSRFTokenFromContext(ctx context.Context) string {
	if token, ok := ctx.Value(csrfTokenContextKey).(string); ok {
		return token
	}
	return ""
}

func isUnsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}
