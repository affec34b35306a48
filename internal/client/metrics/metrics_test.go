package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/metrics"
)

func TestObserveLoginCountsByOutcome(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveLogin(metrics.OutcomeSuccess)
	m.ObserveLogin(metrics.OutcomeFailed)
	m.ObserveLogin(metrics.OutcomeFailed)

	require.Equal(t, 1.0, testutil.ToFloat64(m.LoginAttempts.WithLabelValues(metrics.OutcomeSuccess)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.LoginAttempts.WithLabelValues(metrics.OutcomeFailed)))
	require.Equal(t, 0.0, testutil.ToFloat64(m.LoginAttempts.WithLabelValues(metrics.OutcomeDuplicate)))
}

func TestInstrumentLabelsByRoutePattern(t *testing.T) {
	m := metrics.New(nil)

	router := chi.NewRouter()
	router.Use(m.Instrument)
	router.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router.Get("/metrics", m.Handler().ServeHTTP)

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	m.ObserveUpstream(120*time.Millisecond, errors.New("boom"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	require.Contains(t, text, `http_requests_total{method="GET",route="/items/{id}",status="418"} 2`)
	require.Contains(t, text, `client_login_upstream_duration_seconds_count{result="error"} 1`)
	require.True(t, strings.Contains(text, "go_goroutines"), "default registry carries runtime collectors")
}
