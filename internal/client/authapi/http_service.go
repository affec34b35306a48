package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/credentials"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 16
	maxErrorExcerpt = 512
)

// Gateways in front of the endpoint answer failures with full HTML pages.
var excerptPolicy = bluemonday.StrictPolicy()

// HTTPClient matches the subset of http.Client used by HTTPService.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPService implements Service against the remote JSON login endpoint.
type HTTPService struct {
	endpoint *url.URL
	client   HTTPClient
	logger   *zap.Logger
}

// Option customises an HTTPService.
type Option func(*HTTPService)

// WithHTTPClient overrides the HTTP client. The default client times out after 10 seconds.
func WithHTTPClient(client HTTPClient) Option {
	return func(s *HTTPService) {
		if client != nil {
			s.client = client
		}
	}
}

// WithTimeout replaces the HTTP client with one bounded by timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *HTTPService) {
		if timeout > 0 {
			s.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithLogger sets the logger used for upstream diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *HTTPService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHTTPService constructs a Service posting to endpoint.
func NewHTTPService(endpoint string, opts ...Option) (*HTTPService, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("authapi: login URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("authapi: parse login URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("authapi: login URL must be http(s), got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("authapi: login URL has no host")
	}

	svc := &HTTPService{
		endpoint: parsed,
		client:   &http.Client{Timeout: defaultTimeout},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Endpoint returns the login URL requests are sent to.
func (s *HTTPService) Endpoint() string {
	return s.endpoint.String()
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login posts the credentials as JSON. Any 2xx answer is a success; transport failures and
// other statuses are returned as errors matching ErrLoginFailed.
func (s *HTTPService) Login(ctx context.Context, creds credentials.Credentials) (*Result, error) {
	req, err := s.newJSONRequest(ctx, loginRequest{Email: creds.Email, Password: creds.Password})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrLoginFailed, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: errorExcerpt(body)}
	}
	if readErr != nil {
		// The endpoint accepted the credentials; a truncated body does not change that.
		s.logger.Warn("login response body read failed", zap.Error(readErr))
	}

	s.logger.Debug("login accepted",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.ByteString("body", body),
	)
	return &Result{StatusCode: resp.StatusCode, Body: body}, nil
}

func (s *HTTPService) newJSONRequest(ctx context.Context, payload any) (*http.Request, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("%w: encode payload: %w", ErrLoginFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint.String(), &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrLoginFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// errorExcerpt reduces an error body to a short single-line plain text string.
func errorExcerpt(body []byte) string {
	text := html.UnescapeString(excerptPolicy.Sanitize(string(body)))
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxErrorExcerpt {
		text = strings.ToValidUTF8(text[:maxErrorExcerpt], "") + "..."
	}
	return text
}
