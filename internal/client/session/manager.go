package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/oklog/ulid/v2"
)

const (
	defaultCookieName  = "client_session"
	defaultLifetime    = 12 * time.Hour
	defaultIdleTimeout = 30 * time.Minute
	csrfTokenBytes     = 32
)

var (
	// ErrExpired is returned by Load when the cookie decoded fine but the session outlived its
	// idle window or absolute lifetime.
	ErrExpired = errors.New("session expired")
	// ErrInvalidConfig reports unusable manager options.
	ErrInvalidConfig = errors.New("session: invalid config")
)

// payload is what travels in the cookie. It identifies the browser tab's form session and
// carries the CSRF token; credentials never land here.
type payload struct {
	ID       string    `json:"sid"`
	Issued   time.Time `json:"iat"`
	LastSeen time.Time `json:"seen"`
	CSRF     string    `json:"csrf,omitempty"`
}

// Session is the per-request view of the form session.
type Session struct {
	p         payload
	lifetime  time.Duration
	dirty     bool
	destroyed bool
}

// Config controls cookie encoding and lifecycle limits.
type Config struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookieSecure bool

	IdleTimeout time.Duration
	Lifetime    time.Duration
	Now         func() time.Time
}

// Manager encodes form sessions into signed, optionally encrypted cookies.
type Manager struct {
	name     string
	secure   bool
	idle     time.Duration
	lifetime time.Duration
	now      func() time.Time
	codec    *securecookie.SecureCookie
}

// NewManager validates cfg and builds a Manager. A hash key is mandatory; the block key enables
// encryption and must be an AES key size when set.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) == 0 {
		return nil, fmt.Errorf("%w: hash key is required", ErrInvalidConfig)
	}
	switch len(cfg.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes, got %d", ErrInvalidConfig, len(cfg.BlockKey))
	}

	m := &Manager{
		name:     cfg.CookieName,
		secure:   cfg.CookieSecure,
		idle:     cfg.IdleTimeout,
		lifetime: cfg.Lifetime,
		now:      cfg.Now,
	}
	if m.name == "" {
		m.name = defaultCookieName
	}
	if m.idle <= 0 {
		m.idle = defaultIdleTimeout
	}
	if m.lifetime <= 0 {
		m.lifetime = defaultLifetime
	}
	if m.now == nil {
		m.now = time.Now
	}

	m.codec = securecookie.New(cfg.HashKey, cfg.BlockKey)
	m.codec.SetSerializer(securecookie.JSONEncoder{})
	m.codec.MaxAge(int(m.lifetime / time.Second))
	return m, nil
}

// NewEphemeralManager generates throwaway keys, so sessions die with the process.
func NewEphemeralManager(cfg Config) (*Manager, error) {
	cfg.HashKey = securecookie.GenerateRandomKey(64)
	cfg.BlockKey = securecookie.GenerateRandomKey(32)
	if cfg.HashKey == nil || cfg.BlockKey == nil {
		return nil, fmt.Errorf("%w: generate keys", ErrInvalidConfig)
	}
	return NewManager(cfg)
}

// Load decodes the request cookie. A missing or undecodable cookie yields a fresh session; an
// expired one yields ErrExpired so the caller can clear it.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.name)
	if err != nil {
		return m.New(), nil
	}

	var p payload
	if err := m.codec.Decode(m.name, cookie.Value, &p); err != nil || p.ID == "" {
		return m.New(), nil
	}
	if reason := m.expiry(p, m.now()); reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrExpired, reason)
	}
	return &Session{p: p, lifetime: m.lifetime}, nil
}

// Save refreshes the idle clock and writes the cookie. Destroyed sessions clear it instead.
func (m *Manager) Save(w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return errors.New("session: nil session")
	}
	if sess.destroyed {
		m.Destroy(w)
		return nil
	}

	now := m.now().UTC()
	sess.touch(now)

	encoded, err := m.codec.Encode(m.name, sess.p)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	expires := sess.ExpiresAt()
	c := m.cookie(encoded, expires)
	if remaining := expires.Sub(now); remaining > 0 {
		c.MaxAge = int(remaining.Round(time.Second) / time.Second)
	} else {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
	sess.dirty = false
	return nil
}

// Destroy clears the cookie on the client.
func (m *Manager) Destroy(w http.ResponseWriter) {
	c := m.cookie("", time.Unix(0, 0))
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// New issues a session with a fresh ULID and no CSRF token yet.
func (m *Manager) New() *Session {
	now := m.now().UTC()
	return &Session{
		p: payload{
			ID:       ulid.Make().String(),
			Issued:   now,
			LastSeen: now,
		},
		lifetime: m.lifetime,
		dirty:    true,
	}
}

// expiry names the limit p has exceeded at now, or returns "" while it is still usable.
func (m *Manager) expiry(p payload, now time.Time) string {
	now = now.UTC()
	if !p.Issued.IsZero() && now.Sub(p.Issued) > m.lifetime {
		return "lifetime exceeded"
	}
	last := p.LastSeen
	if last.IsZero() {
		last = p.Issued
	}
	if !last.IsZero() && now.Sub(last) > m.idle {
		return "idle timeout"
	}
	return ""
}

func (m *Manager) cookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    value,
		Path:     "/",
		Expires:  expires.UTC(),
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ID is the stable identifier submissions are deduplicated by.
func (s *Session) ID() string { return s.p.ID }

// ExpiresAt is the absolute end of the session.
func (s *Session) ExpiresAt() time.Time { return s.p.Issued.Add(s.lifetime) }

// CSRFToken returns the stored token, empty until EnsureCSRFToken runs.
func (s *Session) CSRFToken() string { return s.p.CSRF }

// EnsureCSRFToken returns the session's token, minting one on first use.
func (s *Session) EnsureCSRFToken() (string, error) {
	if s.p.CSRF != "" {
		return s.p.CSRF, nil
	}
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate csrf token: %w", err)
	}
	s.p.CSRF = base64.RawURLEncoding.EncodeToString(buf)
	s.dirty = true
	return s.p.CSRF, nil
}

// Destroy marks the session to be cleared when it is saved.
func (s *Session) Destroy() {
	s.destroyed = true
	s.dirty = true
}

// Destroyed reports whether Destroy was called.
func (s *Session) Destroyed() bool { return s.destroyed }

// Dirty reports unsaved changes.
func (s *Session) Dirty() bool { return s.dirty }

func (s *Session) touch(now time.Time) {
	if now.After(s.p.LastSeen) {
		s.p.LastSeen = now
		s.dirty = true
	}
}
