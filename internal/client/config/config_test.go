package config

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(WithEnvFile(""), WithoutSystemEnv())
	require.NoError(t, err)

	require.Equal(t, "development", cfg.Environment)
	require.False(t, cfg.IsProduction())
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "/login", cfg.Server.LoginPath)
	require.Equal(t, "/", cfg.Server.RedirectTarget)
	require.Equal(t, "https://phase2-aio.vercel.app/apis/login", cfg.Auth.LoginURL)
	require.Equal(t, 10*time.Second, cfg.Auth.Timeout)
	require.False(t, cfg.Auth.Offline)
	require.Equal(t, 30, cfg.RateLimit.LoginPerMinute)
	require.Equal(t, 10, cfg.RateLimit.LoginBurst)
	require.Equal(t, "en", cfg.I18n.DefaultLanguage)
	require.False(t, cfg.Session.CookieSecure)

	require.True(t, cfg.Session.Ephemeral)
	require.Len(t, cfg.Session.HashKey, 64)
	require.Len(t, cfg.Session.BlockKey, 32)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("CLIENT_HTTP_ADDR=:9000\nCLIENT_REDIRECT_TARGET=/from-file\nCLIENT_UPSTREAM_TIMEOUT=3s\n"), 0o600))

	cfg, err := Load(
		WithEnvFile(envPath),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{
			"CLIENT_REDIRECT_TARGET": "/dashboard",
			"CLIENT_AUTH_OFFLINE":    "true",
		}),
	)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, "/dashboard", cfg.Server.RedirectTarget)
	require.Equal(t, 3*time.Second, cfg.Auth.Timeout)
	require.True(t, cfg.Auth.Offline)
}

func TestLoadDecodesSessionKeys(t *testing.T) {
	hash := []byte("0123456789abcdef0123456789abcdef")
	block := []byte("abcdef0123456789")

	cfg, err := Load(WithEnvFile(""), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"CLIENT_ENVIRONMENT":       "production",
		"CLIENT_SESSION_HASH_KEY":  base64.StdEncoding.EncodeToString(hash),
		"CLIENT_SESSION_BLOCK_KEY": base64.RawURLEncoding.EncodeToString(block),
	}))
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.True(t, cfg.Session.CookieSecure)
	require.False(t, cfg.Session.Ephemeral)
	require.Equal(t, hash, cfg.Session.HashKey)
	require.Equal(t, block, cfg.Session.BlockKey)
}

func TestLoadRequiresKeysInProduction(t *testing.T) {
	_, err := Load(WithEnvFile(""), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"CLIENT_ENVIRONMENT": "prod",
	}))

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	require.Contains(t, vErr.Fields(), "CLIENT_SESSION_HASH_KEY")
}

func TestLoadReportsInvalidFields(t *testing.T) {
	_, err := Load(WithEnvFile(""), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"CLIENT_LOGIN_PATH":         "login",
		"CLIENT_REDIRECT_TARGET":    "https://evil.example.com/",
		"CLIENT_AUTH_LOGIN_URL":     "ftp://example.com",
		"CLIENT_UPSTREAM_TIMEOUT":   "-1s",
		"CLIENT_SESSION_BLOCK_KEY":  "%%%",
		"CLIENT_LOGIN_RATE_PER_MIN": "0",
	}))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.ElementsMatch(t, []string{
		"CLIENT_LOGIN_PATH",
		"CLIENT_REDIRECT_TARGET",
		"CLIENT_AUTH_LOGIN_URL",
		"CLIENT_UPSTREAM_TIMEOUT",
		"CLIENT_SESSION_BLOCK_KEY",
		"CLIENT_LOGIN_RATE_PER_MIN",
	}, vErr.Fields())
}

func TestIsLocalPath(t *testing.T) {
	for target, want := range map[string]bool{
		"/":                 true,
		"/dashboard?tab=1":  true,
		"//evil.example":    false,
		"/\\evil.example":   false,
		"https://example":   false,
		"relative/path":     false,
		"":                  false,
	} {
		require.Equal(t, want, isLocalPath(target), "target %q", target)
	}
}
