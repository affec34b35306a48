package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/observability"
)

func TestRequestLoggerRecordsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	router := chi.NewRouter()
	router.Use(observability.InjectLogger(logger))
	router.Use(observability.RequestLogger())
	router.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		observability.FromContext(r.Context()).Info("handler ran")
		w.WriteHeader(http.StatusUnauthorized)
	})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	handlerLogs := logs.FilterMessage("handler ran").All()
	require.Len(t, handlerLogs, 1)
	require.Equal(t, "POST", handlerLogs[0].ContextMap()["method"])
	require.Equal(t, true, handlerLogs[0].ContextMap()["htmx"])

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	require.Equal(t, zapcore.WarnLevel, completed[0].Level)
	fields := completed[0].ContextMap()
	require.Equal(t, int64(http.StatusUnauthorized), fields["status"])
	require.Equal(t, "/login", fields["route"])
}

func TestRequestLoggerMarksPanicsAsErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	handler := observability.InjectLogger(zap.New(core))(observability.RequestLogger()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	require.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	require.Equal(t, zapcore.ErrorLevel, completed[0].Level)
	require.Equal(t, int64(http.StatusInternalServerError), completed[0].ContextMap()["status"])
}

func TestFromContextDefaultsToNop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NotNil(t, observability.FromContext(req.Context()))
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := observability.NewLogger("not-a-level")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	debug, err := observability.NewLogger("DEBUG")
	require.NoError(t, err)
	require.True(t, debug.Core().Enabled(zapcore.DebugLevel))
}
