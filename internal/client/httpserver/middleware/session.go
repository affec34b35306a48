package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/observability"
	appsession "github.com/cliffordwilliam/WitheredBlogClient/internal/client/session"
)

type sessionContextKey string

const requestSessionKey sessionContextKey = "client.session"

// SessionStore abstracts the session manager for middleware integration.
type SessionStore interface {
	Load(*http.Request) (*appsession.Session, error)
	New() *appsession.Session
	Save(http.ResponseWriter, *appsession.Session) error
	Destroy(http.ResponseWriter)
}

// Session attaches the decoded session to the request context and persists it back to the
// client cookie just before the response headers are sent.
func Session(store SessionStore) func(http.Handler) http.Handler {
	if store == nil {
		panic("session store is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := observability.FromContext(r.Context())

			sess, err := store.Load(r)
			if errors.Is(err, appsession.ErrExpired) {
				logger.Debug("session expired: resetting")
				store.Destroy(w)
				sess = store.New()
			} else if err != nil || sess == nil {
				if err != nil {
					logger.Warn("session load failed", zap.Error(err))
				}
				sess = store.New()
			}

			bw := &beforeWriteWriter{ResponseWriter: w}
			bw.hook = func() {
				if err := store.Save(w, sess); err != nil {
					logger.Error("session save failed", zap.Error(err))
				}
			}

			ctx := context.WithValue(r.Context(), requestSessionKey, sess)
			next.ServeHTTP(bw, r.WithContext(ctx))

			// Nothing was written (HEAD or an empty 200); persist now.
			bw.fire()
		})
	}
}

// SessionFromContext retrieves the session attached to this request.
func SessionFromContext(ctx context.Context) (*appsession.Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(requestSessionKey).(*appsession.Session)
	return sess, ok && sess != nil
}

// beforeWriteWriter runs hook once, before the first byte or status line reaches the client.
type beforeWriteWriter struct {
	http.ResponseWriter
	hook func()
	once sync.Once
}

func (w *beforeWriteWriter) fire() {
	w.once.Do(func() {
		if w.hook != nil {
			w.hook()
		}
	})
}

func (w *beforeWriteWriter) WriteHeader(status int) {
	w.fire()
	w.ResponseWriter.WriteHeader(status)
}

func (w *beforeWriteWriter) Write(b []byte) (int, error) {
	w.fire()
	return w.ResponseWriter.Write(b)
}

func (w *beforeWriteWriter) Flush() {
	w.fire()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *beforeWriteWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
