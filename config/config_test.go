package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris/anchor/internal/plan"
)

func TestFromViper_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg := FromViper(v)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "anthropic", cfg.LLMProvider)
	assert.Equal(t, "sqlite", cfg.ContextBackend)
	assert.Equal(t, 7, cfg.CleanupDays)
	assert.Equal(t, "America/Los_Angeles", cfg.DefaultTimezone)
	assert.Equal(t, 3, cfg.DeliveryAttempts)
	assert.Equal(t, 2*time.Second, cfg.DeliveryBackoff)
	assert.Equal(t, time.Hour, cfg.SendWindow)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10, cfg.RatePerMinute)
	assert.Equal(t, plan.DefaultWindow, cfg.Window())
	assert.False(t, cfg.SMSEnabled())
}

func TestFromViper_Env(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CONTEXT_BACKEND", "redis")
	t.Setenv("WORKDAY_START", "08:30")
	t.Setenv("DELIVERY_BACKOFF", "500ms")
	t.Setenv("TWILIO_VALIDATE_SIGNATURE", "true")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("PUBLIC_URL", "https://anchor.example.com/webhook")

	v := viper.New()
	SetDefaults(v)
	cfg := FromViper(v)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "sk-test", cfg.APIKey())
	assert.Equal(t, "redis", cfg.ContextBackend)
	assert.Equal(t, 500*time.Millisecond, cfg.DeliveryBackoff)
	assert.True(t, cfg.ValidateSignature)
	assert.Equal(t, plan.MustClock("08:30"), cfg.Window().Start)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad timezone", func(c *Config) { c.DefaultTimezone = "Mars/Olympus" }},
		{"bad morning time", func(c *Config) { c.MorningTime = "8am" }},
		{"bad evening time", func(c *Config) { c.EveningTime = "25:00" }},
		{"inverted workday", func(c *Config) { c.WorkdayStart, c.WorkdayEnd = "18:00", "09:00" }},
		{"negative cleanup days", func(c *Config) { c.CleanupDays = -1 }},
		{"unknown backend", func(c *Config) { c.ContextBackend = "memcached" }},
		{"signature without token", func(c *Config) { c.ValidateSignature = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			cfg := FromViper(v)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
