package httpserver_test

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/authapi"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/credentials"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/metrics"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/testutil"
)

func validForm() url.Values {
	return url.Values{"email": {"test@mail.com"}, "password": {"secret1"}}
}

func TestLoginPageStartsDisabled(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)

	resp, err := client.Get(ts.URL + "/login")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
	require.NotEmpty(t, resp.Cookies(), "session cookie must be issued with the first page")

	doc := testutil.ParseHTML(t, testutil.ReadBody(t, resp))
	require.True(t, testutil.SubmitDisabled(t, doc))
	require.Equal(t, "/login", doc.Find("form#login-form").AttrOr("hx-post", ""))
	require.Empty(t, testutil.Text(doc, "#email-error"))
	require.Empty(t, testutil.Text(doc, "#toast-region"))
}

func TestValidateFragmentTogglesSubmit(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)
	token := testutil.FetchCSRFToken(t, client, ts.URL, "/login")

	resp := testutil.PostForm(t, client, ts.URL+"/login/validate", validForm(), token, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := testutil.ParseHTML(t, testutil.ReadBody(t, resp))
	submit := doc.Find("#login-submit")
	require.Equal(t, 1, submit.Length())
	require.Equal(t, "true", submit.AttrOr("hx-swap-oob", ""))
	require.False(t, testutil.SubmitDisabled(t, doc))
	require.Empty(t, testutil.Text(doc, "#email-error"))

	resp = testutil.PostForm(t, client, ts.URL+"/login/validate", url.Values{"email": {"test"}, "password": {""}}, token, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc = testutil.ParseHTML(t, testutil.ReadBody(t, resp))
	require.Equal(t, "Invalid email format", testutil.Text(doc, "#email-error"))
	require.Empty(t, testutil.Text(doc, "#password-error"), "untouched password stays quiet")
	require.True(t, testutil.SubmitDisabled(t, doc))
}

func TestValidateRequiresHTMX(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)
	token := testutil.FetchCSRFToken(t, client, ts.URL, "/login")

	resp := testutil.PostForm(t, client, ts.URL+"/login/validate", validForm(), token, false)
	testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoginSuccessRedirects(t *testing.T) {
	t.Parallel()

	service := authapi.NewStaticService()
	ts := testutil.NewServer(t, testutil.WithAuthService(service))
	client := testutil.NewClient(t)
	token := testutil.FetchCSRFToken(t, client, ts.URL, "/login")

	resp := testutil.PostForm(t, client, ts.URL+"/login", validForm(), token, false)
	testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))

	resp = testutil.PostForm(t, client, ts.URL+"/login", validForm(), token, true)
	testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("HX-Redirect"))

	require.Equal(t, 2, service.Calls())
	creds, ok := service.LastCredentials()
	require.True(t, ok)
	require.Equal(t, credentials.Credentials{Email: "test@mail.com", Password: "secret1"}, creds)
}

func TestLoginRedirectTargetIsConfigurable(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t, testutil.WithRedirectTarget("/dashboard"))
	client := testutil.NewClient(t)
	token := testutil.FetchCSRFToken(t, client, ts.URL, "/login")

	resp := testutil.PostForm(t, client, ts.URL+"/login", validForm(), token, true)
	testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("HX-Redirect"))
}

func TestLoginFailureShowsToast(t *testing.T) {
	t.Parallel()

	service := &authapi.StaticService{Err: &authapi.StatusError{StatusCode: http.StatusUnauthorized, Body: `{"message":"invalid"}`}}
	ts := testutil.NewServer(t, testutil.WithAuthService(service))
	client := testutil.NewClient(t)
	token := testutil.FetchCSRFToken(t, client, ts.URL, "/login")

	resp := testutil.PostForm(t, client, ts.URL+"/login", validForm(), token, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Header.Get("HX-Redirect"))
	doc := testutil.ParseHTML(t, testutil.ReadBody(t, resp))
	require.Equal(t, "Login error", testutil.Text(doc, "[data-toast] .toast-message"))

	resp = testutil.PostForm(t, client, ts.URL+"/login", validForm(), token, false)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Location"))
	doc = testutil.ParseHTML(t, testutil.ReadBody(t, resp))
	require.Equal(t, "Login error", testutil.Text(doc, "#toast-region .toast-message"))
	require.Equal(t, "test@mail.com", doc.Find("input#email").AttrOr("value", ""))
	require.Empty(t, doc.Find("input#password").AttrOr("value", ""))
	require.True(t, testutil.SubmitDisabled(t, doc), "password is not echoed back so the form is incomplete")
}

func TestLoginRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	service := authapi.NewStaticService()
	ts := testutil.NewServer(t, testutil.WithAuthService(service))
	client := testutil.NewClient(t)
	token := testutil.FetchCSRFToken(t, client, ts.URL, "/login")
	bad := url.Values{"email": {"test"}, "password": {"123"}}

	resp := testutil.PostForm(t, client, ts.URL+"/login", bad, token, false)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	doc := testutil.ParseHTML(t, testutil.ReadBody(t, resp))
	require.Equal(t, "Invalid email format", testutil.Text(doc, "#email-error"))
	require.Equal(t, "Password must be at least 6 characters", testutil.Text(doc, "#password-error"))

	resp = testutil.PostForm(t, client, ts.URL+"/login", bad, token, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "none", resp.Header.Get("HX-Reswap"))
	doc = testutil.ParseHTML(t, testutil.ReadBody(t, resp))
	require.Equal(t, "true", doc.Find("#email-error").AttrOr("hx-swap-oob", ""))

	require.Zero(t, service.Calls(), "invalid input never reaches the remote endpoint")
}

type blockingService struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (s *blockingService) Login(ctx context.Context, _ credentials.Credentials) (*authapi.Result, error) {
	s.calls.Add(1)
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	select {
	case <-s.release:
		return &authapi.Result{StatusCode: http.StatusOK}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestConcurrentSubmissionsShareOneUpstreamCall(t *testing.T) {
	t.Parallel()

	service := &blockingService{release: make(chan struct{})}
	m := metrics.New(prometheus.NewRegistry())
	ts := testutil.NewServer(t, testutil.WithAuthService(service), testutil.WithMetrics(m))
	client := testutil.NewClient(t)
	token := testutil.FetchCSRFToken(t, client, ts.URL, "/login")

	statuses := make([]int, 2)
	var wg sync.WaitGroup
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := testutil.PostForm(t, client, ts.URL+"/login", validForm(), token, true)
			testutil.ReadBody(t, resp)
			statuses[i] = resp.StatusCode
		}(i)
	}

	require.Eventually(t, func() bool {
		return promtestutil.ToFloat64(m.LoginsInFlight) == 2
	}, 5*time.Second, 10*time.Millisecond)
	close(service.release)
	wg.Wait()

	require.Equal(t, []int{http.StatusNoContent, http.StatusNoContent}, statuses)
	require.Equal(t, int32(1), service.calls.Load())
	require.Equal(t, 1.0, promtestutil.ToFloat64(m.LoginAttempts.WithLabelValues(metrics.OutcomeDuplicate)))
	require.Equal(t, 1.0, promtestutil.ToFloat64(m.LoginAttempts.WithLabelValues(metrics.OutcomeSuccess)))
}

func TestSubmissionWaitingOnInFlightRequestIsLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	service := &blockingService{started: make(chan struct{}, 1), release: make(chan struct{})}
	ts := testutil.NewServer(t, testutil.WithAuthService(service), testutil.WithLogger(zap.New(core)))
	client := testutil.NewClient(t)
	token := testutil.FetchCSRFToken(t, client, ts.URL, "/login")

	submit := func(done chan<- int) {
		resp := testutil.PostForm(t, client, ts.URL+"/login", validForm(), token, true)
		testutil.ReadBody(t, resp)
		done <- resp.StatusCode
	}

	first := make(chan int, 1)
	go submit(first)
	select {
	case <-service.started:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream call never started")
	}

	second := make(chan int, 1)
	go submit(second)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("login submission waiting on in-flight request").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
	close(service.release)

	require.Equal(t, http.StatusNoContent, <-first)
	require.Equal(t, http.StatusNoContent, <-second)
	require.Equal(t, int32(1), service.calls.Load())

	entry := logs.FilterMessage("login submission waiting on in-flight request").All()[0]
	require.NotEmpty(t, entry.ContextMap()["session_id"])
	require.Equal(t, 1, logs.FilterMessage("login submission joined an in-flight request").Len())
}

func TestCSRFRejectionRestartsLogin(t *testing.T) {
	t.Parallel()

	service := authapi.NewStaticService()
	ts := testutil.NewServer(t, testutil.WithAuthService(service))
	client := testutil.NewClient(t)
	testutil.FetchCSRFToken(t, client, ts.URL, "/login")

	resp := testutil.PostForm(t, client, ts.URL+"/login", validForm(), "forged", false)
	testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/login?expired=1", resp.Header.Get("Location"))

	resp = testutil.PostForm(t, client, ts.URL+"/login", validForm(), "", true)
	testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "/login?expired=1", resp.Header.Get("HX-Redirect"))
	require.Zero(t, service.Calls())

	resp, err := client.Get(ts.URL + "/login?expired=1")
	require.NoError(t, err)
	doc := testutil.ParseHTML(t, testutil.ReadBody(t, resp))
	require.Equal(t, "Your session expired. Please try again.", testutil.Text(doc, "#toast-region .toast-message"))
}

func TestLoginSubmissionsAreRateLimited(t *testing.T) {
	t.Parallel()

	service := authapi.NewStaticService()
	ts := testutil.NewServer(t, testutil.WithAuthService(service), testutil.WithLoginRate(1, 1))
	client := testutil.NewClient(t)
	token := testutil.FetchCSRFToken(t, client, ts.URL, "/login")

	resp := testutil.PostForm(t, client, ts.URL+"/login", validForm(), token, true)
	testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = testutil.PostForm(t, client, ts.URL+"/login", validForm(), token, true)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "60", resp.Header.Get("Retry-After"))
	doc := testutil.ParseHTML(t, testutil.ReadBody(t, resp))
	require.Contains(t, doc.Find(".toast-message").Text(), "Too many login attempts")
	require.Equal(t, 1, service.Calls())

	// Keystroke validation is not throttled.
	resp = testutil.PostForm(t, client, ts.URL+"/login/validate", validForm(), token, true)
	testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginPathIsConfigurable(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t, testutil.WithLoginPath("/signin/"))
	client := testutil.NewClient(t)
	token := testutil.FetchCSRFToken(t, client, ts.URL, "/signin")

	resp := testutil.PostForm(t, client, ts.URL+"/signin/validate", validForm(), token, true)
	testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOperationalEndpoints(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	ts := testutil.NewServer(t, testutil.WithMetrics(m))
	client := testutil.NewClient(t)

	resp, err := client.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, "ok", string(testutil.ReadBody(t, resp)))

	resp, err = client.Get(ts.URL + "/public/static/toast.js")
	require.NoError(t, err)
	testutil.ReadBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/")
	require.NoError(t, err)
	doc := testutil.ParseHTML(t, testutil.ReadBody(t, resp))
	require.Equal(t, "/login", doc.Find("a[href='/login']").AttrOr("href", ""))

	token := testutil.FetchCSRFToken(t, client, ts.URL, "/login")
	resp = testutil.PostForm(t, client, ts.URL+"/login", validForm(), token, true)
	testutil.ReadBody(t, resp)

	resp, err = client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	text := string(testutil.ReadBody(t, resp))
	require.Contains(t, text, `client_login_attempts_total{outcome="success"} 1`)
	require.Contains(t, text, `http_requests_total{method="POST",route="/login`)
}
