package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
)

const (
	defaultEnvFile         = ".env"
	defaultAddr            = ":8080"
	defaultLoginPath       = "/login"
	defaultRedirectTarget  = "/"
	defaultAuthLoginURL    = "https://phase2-aio.vercel.app/apis/login"
	defaultUpstreamTimeout = 10 * time.Second
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultEnvironment     = "development"
	defaultLogLevel        = "info"
	defaultLoginRatePerMin = 30
	defaultLoginRateBurst  = 10
	defaultSessionIdle     = 30 * time.Minute
	defaultSessionLifetime = 12 * time.Hour
	defaultLanguage        = "en"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Auth        AuthConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	I18n        I18nConfig
}

// ServerConfig configures the HTTP listener and routes.
type ServerConfig struct {
	Addr           string
	LoginPath      string
	RedirectTarget string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// AuthConfig describes the remote login endpoint.
type AuthConfig struct {
	LoginURL string
	Timeout  time.Duration
	// Offline swaps the remote endpoint for an in-process stub that accepts every login.
	Offline bool
}

// SessionConfig controls the form session cookie.
type SessionConfig struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookieSecure bool
	IdleTimeout  time.Duration
	Lifetime     time.Duration
	// Ephemeral reports that keys were generated at start-up.
	Ephemeral bool
}

// RateLimitConfig throttles login submissions per client IP.
type RateLimitConfig struct {
	LoginPerMinute int
	LoginBurst     int
}

// I18nConfig selects the fallback language for page copy.
type I18nConfig struct {
	DefaultLanguage string
}

// IsProduction reports whether the environment label denotes production.
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "prod", "production":
		return true
	}
	return false
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile reads additional values from the given dotenv file. A missing file is ignored.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap supplies explicit values that take precedence over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load resolves configuration from defaults, the dotenv file, the process environment and any
// explicit map, in increasing precedence.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "CLIENT_ENVIRONMENT", defaultEnvironment)),
		LogLevel:    stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
		Server: ServerConfig{
			Addr:           stringWithDefault(lookup, "CLIENT_HTTP_ADDR", defaultAddr),
			LoginPath:      stringWithDefault(lookup, "CLIENT_LOGIN_PATH", defaultLoginPath),
			RedirectTarget: stringWithDefault(lookup, "CLIENT_REDIRECT_TARGET", defaultRedirectTarget),
			ReadTimeout:    durationWithDefault(lookup, "CLIENT_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "CLIENT_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "CLIENT_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Auth: AuthConfig{
			LoginURL: stringWithDefault(lookup, "CLIENT_AUTH_LOGIN_URL", defaultAuthLoginURL),
			Timeout:  durationWithDefault(lookup, "CLIENT_UPSTREAM_TIMEOUT", defaultUpstreamTimeout),
			Offline:  boolWithDefault(lookup, "CLIENT_AUTH_OFFLINE", false),
		},
		Session: SessionConfig{
			CookieName:  stringWithDefault(lookup, "CLIENT_SESSION_COOKIE", "client_session"),
			IdleTimeout: durationWithDefault(lookup, "CLIENT_SESSION_IDLE_TIMEOUT", defaultSessionIdle),
			Lifetime:    durationWithDefault(lookup, "CLIENT_SESSION_LIFETIME", defaultSessionLifetime),
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: intWithDefault(lookup, "CLIENT_LOGIN_RATE_PER_MIN", defaultLoginRatePerMin),
			LoginBurst:     intWithDefault(lookup, "CLIENT_LOGIN_RATE_BURST", defaultLoginRateBurst),
		},
		I18n: I18nConfig{
			DefaultLanguage: strings.ToLower(stringWithDefault(lookup, "CLIENT_DEFAULT_LANGUAGE", defaultLanguage)),
		},
	}
	cfg.Session.CookieSecure = boolWithDefault(lookup, "CLIENT_COOKIE_SECURE", cfg.IsProduction())

	var invalid []string
	hashKey, hashOK := keyWithDefault(lookup, "CLIENT_SESSION_HASH_KEY")
	blockKey, blockOK := keyWithDefault(lookup, "CLIENT_SESSION_BLOCK_KEY")
	if !hashOK {
		invalid = append(invalid, "CLIENT_SESSION_HASH_KEY")
	}
	if !blockOK {
		invalid = append(invalid, "CLIENT_SESSION_BLOCK_KEY")
	}
	cfg.Session.HashKey = hashKey
	cfg.Session.BlockKey = blockKey
	if len(cfg.Session.HashKey) == 0 && !cfg.IsProduction() {
		cfg.Session.HashKey = securecookie.GenerateRandomKey(64)
		if len(cfg.Session.BlockKey) == 0 {
			cfg.Session.BlockKey = securecookie.GenerateRandomKey(32)
		}
		cfg.Session.Ephemeral = true
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	fields := append([]string(nil), invalid...)

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		fields = append(fields, "CLIENT_HTTP_ADDR")
	}
	if !strings.HasPrefix(cfg.Server.LoginPath, "/") || cfg.Server.LoginPath == "/" {
		fields = append(fields, "CLIENT_LOGIN_PATH")
	}
	if !isLocalPath(cfg.Server.RedirectTarget) {
		fields = append(fields, "CLIENT_REDIRECT_TARGET")
	}
	if u, err := url.Parse(cfg.Auth.LoginURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fields = append(fields, "CLIENT_AUTH_LOGIN_URL")
	}
	if cfg.Auth.Timeout <= 0 {
		fields = append(fields, "CLIENT_UPSTREAM_TIMEOUT")
	}
	if len(cfg.Session.HashKey) == 0 {
		fields = append(fields, "CLIENT_SESSION_HASH_KEY")
	}
	switch len(cfg.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		fields = append(fields, "CLIENT_SESSION_BLOCK_KEY")
	}
	if cfg.RateLimit.LoginPerMinute <= 0 {
		fields = append(fields, "CLIENT_LOGIN_RATE_PER_MIN")
	}
	if cfg.RateLimit.LoginBurst <= 0 {
		fields = append(fields, "CLIENT_LOGIN_RATE_BURST")
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{fields: dedupe(fields)}
}

func isLocalPath(target string) bool {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}

func loadDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

// keyWithDefault reads a base64 (std or URL alphabet) encoded key. ok is false when a value is
// present but cannot be decoded.
func keyWithDefault(lookup func(string) (string, bool), key string) ([]byte, bool) {
	value, present := lookup(key)
	value = strings.TrimSpace(value)
	if !present || value == "" {
		return nil, true
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(value); err == nil && len(decoded) > 0 {
			return decoded, true
		}
	}
	return nil, false
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
