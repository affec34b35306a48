package authapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/credentials"
)

// DefaultLoginURL is the remote authentication endpoint the login form submits to.
const DefaultLoginURL = "https://phase2-aio.vercel.app/apis/login"

// ErrLoginFailed is matched by every error returned from Service.Login.
var ErrLoginFailed = errors.New("authapi: login failed")

// Service submits credentials to the remote authentication endpoint.
type Service interface {
	Login(ctx context.Context, creds credentials.Credentials) (*Result, error)
}

// Result describes an accepted login. The body is opaque to the front end.
type Result struct {
	StatusCode int
	Body       []byte
}

// StatusError reports a non-2xx answer from the authentication endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("authapi: login rejected (%d): %s", e.StatusCode, body)
}

// Unwrap ties StatusError to ErrLoginFailed.
func (e *StatusError) Unwrap() error {
	return ErrLoginFailed
}

// StaticService answers every login with a fixed outcome. It backs offline development and tests.
type StaticService struct {
	Err    error
	Result *Result

	mu    sync.Mutex
	calls []credentials.Credentials
}

// NewStaticService returns a StaticService that accepts every submission.
func NewStaticService() *StaticService {
	return &StaticService{}
}

// Login records the submission and returns the configured outcome.
func (s *StaticService) Login(ctx context.Context, creds credentials.Credentials) (*Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, creds)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if s.Err != nil {
		if errors.Is(s.Err, ErrLoginFailed) {
			return nil, s.Err
		}
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, s.Err)
	}
	if s.Result != nil {
		return s.Result, nil
	}
	return &Result{StatusCode: http.StatusOK}, nil
}

// Calls returns the number of submissions received.
func (s *StaticService) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// LastCredentials returns the most recent submission, if any.
func (s *StaticService) LastCredentials() (credentials.Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return credentials.Credentials{}, false
	}
	return s.calls[len(s.calls)-1], true
}
