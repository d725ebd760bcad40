package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com/v1/")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, "console:session:", cfg.Session.SessionPrefix)
	assert.True(t, cfg.Cookie.HTTPOnly)
	assert.Equal(t, 30*time.Second, cfg.Cache.OrganizationsTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_TIMEOUT", "2s")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("LOGIN_RATE_BURST", "nope")
	t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.test , ,http://b.test")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.API.Timeout)
	assert.True(t, cfg.Cookie.Secure)
	assert.Equal(t, 5, cfg.RateLimit.LoginBurst, "unparsable values fall back")
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.Origins())
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "console", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/console?sslmode=disable", d.DSN())
	d.URL = "postgres://elsewhere/x"
	assert.Equal(t, "postgres://elsewhere/x", d.DSN())
}
