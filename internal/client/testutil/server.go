package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/authapi"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/httpserver"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/metrics"
)

// ServerOption customises the HTTP server configuration for tests.
type ServerOption func(*httpserver.Config)

// WithAuthService wires a custom login service implementation.
func WithAuthService(service authapi.Service) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.AuthService = service
	}
}

// WithRedirectTarget overrides where a successful login lands.
func WithRedirectTarget(target string) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.RedirectTarget = target
	}
}

// WithLoginPath mounts the login screen somewhere other than /login.
func WithLoginPath(path string) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.LoginPath = path
	}
}

// WithLoginRate overrides the per-client submission limiter.
func WithLoginRate(perMinute, burst int) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.LoginRatePerMinute = perMinute
		cfg.LoginRateBurst = burst
	}
}

// WithMetrics wires a custom metrics set.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Metrics = m
	}
}

// WithLogger replaces the no-op logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Logger = logger
	}
}

// NewServer constructs an httptest server running the client HTTP stack with sensible defaults.
// The login service accepts every submission unless overridden.
func NewServer(t testing.TB, opts ...ServerOption) *httptest.Server {
	t.Helper()

	cfg := httpserver.Config{
		Address:     ":0",
		LoginPath:   "/login",
		AuthService: authapi.NewStaticService(),
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	srv := httpserver.New(cfg)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return ts
}

// NewClient returns a client that keeps cookies between requests and reports redirects instead
// of following them.
func NewClient(t testing.TB) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// FetchCSRFToken loads the login page with client so the session cookie lands in its jar and
// returns the token embedded in the form.
func FetchCSRFToken(t testing.TB, client *http.Client, baseURL, loginPath string) string {
	t.Helper()

	resp, err := client.Get(baseURL + loginPath)
	if err != nil {
		t.Fatalf("get login page: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login page status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read login page: %v", err)
	}
	token, ok := ParseHTML(t, body).Find(`input[name="csrf_token"]`).Attr("value")
	if !ok || token == "" {
		t.Fatalf("login page carries no csrf token")
	}
	return token
}

// PostForm submits form values. When htmx is true the request carries the htmx headers and the
// token travels in X-CSRF-Token, mirroring hx-headers on the page body.
func PostForm(t testing.TB, client *http.Client, target string, form url.Values, csrfToken string, htmx bool) *http.Response {
	t.Helper()

	if form == nil {
		form = url.Values{}
	}
	if !htmx && csrfToken != "" {
		form.Set("csrf_token", csrfToken)
	}
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if htmx {
		req.Header.Set("HX-Request", "true")
		if csrfToken != "" {
			req.Header.Set("X-CSRF-Token", csrfToken)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", target, err)
	}
	return resp
}

// ReadBody drains and closes resp.Body.
func ReadBody(t testing.TB, resp *http.Response) []byte {
	t.Helper()

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return body
}
