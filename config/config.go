package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/chris/anchor/internal/plan"
)

// Keys read from the environment. Viper upper-cases them for env lookup.
const (
	KeyLLMProvider       = "llm_provider"
	KeyAnthropicKey      = "anthropic_api_key"
	KeyAnthropicToken    = "anthropic_auth_token"
	KeyOpenAIKey         = "openai_api_key"
	KeyLLMModel          = "llm_model"
	KeyOllamaBaseURL     = "ollama_base_url"
	KeyDatabasePath      = "database_path"
	KeyContextBackend    = "context_backend"
	KeyRedisURL          = "redis_url"
	KeyCleanupDays       = "context_cleanup_days"
	KeyDefaultTimezone   = "default_timezone"
	KeyMorningTime       = "morning_time"
	KeyEveningTime       = "evening_time"
	KeyWorkdayStart      = "workday_start"
	KeyWorkdayEnd        = "workday_end"
	KeyDeliveryAttempts  = "delivery_attempts"
	KeyDeliveryBackoff   = "delivery_backoff"
	KeySendWindow        = "send_window"
	KeyTwilioAccountSID  = "twilio_account_sid"
	KeyTwilioAuthToken   = "twilio_auth_token"
	KeyTwilioPhoneNumber = "twilio_phone_number"
	KeyValidateSignature = "twilio_validate_signature"
	KeyPublicURL         = "public_url"
	KeyDiscordToken      = "discord_bot_token"
	KeyDiscordWebhook    = "discord_webhook_url"
	KeyPort              = "port"
	KeyLogDir            = "log_dir"
	KeyLogLevel          = "log_level"
	KeyRatePerMinute     = "rate_limit_per_minute"
)

type Config struct {
	LLMProvider    string // anthropic, openai, ollama
	AnthropicKey   string // API key (X-Api-Key header)
	AnthropicToken string // OAuth token (Authorization: Bearer header)
	OpenAIKey      string
	LLMModel       string
	OllamaBaseURL  string

	DatabasePath   string
	ContextBackend string // sqlite, redis
	RedisURL       string
	CleanupDays    int

	DefaultTimezone string
	MorningTime     string
	EveningTime     string
	WorkdayStart    string
	WorkdayEnd      string

	DeliveryAttempts int
	DeliveryBackoff  time.Duration
	SendWindow       time.Duration

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	ValidateSignature bool
	PublicURL         string

	DiscordToken   string
	DiscordWebhook string

	Port          int
	LogDir        string
	LogLevel      string
	RatePerMinute int
}

// ConfigDir is where the installed service keeps its config.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".anchor")
}

func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config")
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLLMProvider, "anthropic")
	v.SetDefault(KeyOllamaBaseURL, "http://localhost:11434/v1")
	v.SetDefault(KeyDatabasePath, "./anchor.db")
	v.SetDefault(KeyContextBackend, "sqlite")
	v.SetDefault(KeyRedisURL, "redis://localhost:6379/0")
	v.SetDefault(KeyCleanupDays, 7)
	v.SetDefault(KeyDefaultTimezone, "America/Los_Angeles")
	v.SetDefault(KeyMorningTime, "08:00")
	v.SetDefault(KeyEveningTime, "20:00")
	v.SetDefault(KeyWorkdayStart, "09:00")
	v.SetDefault(KeyWorkdayEnd, "18:00")
	v.SetDefault(KeyDeliveryAttempts, 3)
	v.SetDefault(KeyDeliveryBackoff, 2*time.Second)
	v.SetDefault(KeySendWindow, time.Hour)
	v.SetDefault(KeyValidateSignature, false)
	v.SetDefault(KeyPort, 8080)
	v.SetDefault(KeyLogDir, "logs")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyRatePerMinute, 10)

	// Keys without a default still need to be known for AutomaticEnv.
	for _, k := range []string{
		KeyAnthropicKey, KeyAnthropicToken, KeyOpenAIKey, KeyLLMModel,
		KeyTwilioAccountSID, KeyTwilioAuthToken, KeyTwilioPhoneNumber,
		KeyPublicURL, KeyDiscordToken, KeyDiscordWebhook,
	} {
		v.SetDefault(k, "")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
}

// Load reads .env (then ~/.anchor/config for the installed service) into
// the environment and builds a Config from the global viper instance.
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore error if no .env
	_ = godotenv.Load(ConfigFile())

	v := viper.GetViper()
	SetDefaults(v)
	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func FromViper(v *viper.Viper) *Config {
	return &Config{
		LLMProvider:       strings.ToLower(v.GetString(KeyLLMProvider)),
		AnthropicKey:      v.GetString(KeyAnthropicKey),
		AnthropicToken:    v.GetString(KeyAnthropicToken),
		OpenAIKey:         v.GetString(KeyOpenAIKey),
		LLMModel:          v.GetString(KeyLLMModel),
		OllamaBaseURL:     v.GetString(KeyOllamaBaseURL),
		DatabasePath:      v.GetString(KeyDatabasePath),
		ContextBackend:    strings.ToLower(v.GetString(KeyContextBackend)),
		RedisURL:          v.GetString(KeyRedisURL),
		CleanupDays:       v.GetInt(KeyCleanupDays),
		DefaultTimezone:   v.GetString(KeyDefaultTimezone),
		MorningTime:       v.GetString(KeyMorningTime),
		EveningTime:       v.GetString(KeyEveningTime),
		WorkdayStart:      v.GetString(KeyWorkdayStart),
		WorkdayEnd:        v.GetString(KeyWorkdayEnd),
		DeliveryAttempts:  v.GetInt(KeyDeliveryAttempts),
		DeliveryBackoff:   v.GetDuration(KeyDeliveryBackoff),
		SendWindow:        v.GetDuration(KeySendWindow),
		TwilioAccountSID:  v.GetString(KeyTwilioAccountSID),
		TwilioAuthToken:   v.GetString(KeyTwilioAuthToken),
		TwilioPhoneNumber: v.GetString(KeyTwilioPhoneNumber),
		ValidateSignature: v.GetBool(KeyValidateSignature),
		PublicURL:         v.GetString(KeyPublicURL),
		DiscordToken:      v.GetString(KeyDiscordToken),
		DiscordWebhook:    v.GetString(KeyDiscordWebhook),
		Port:              v.GetInt(KeyPort),
		LogDir:            v.GetString(KeyLogDir),
		LogLevel:          v.GetString(KeyLogLevel),
		RatePerMinute:     v.GetInt(KeyRatePerMinute),
	}
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	clocks := []struct{ name, val string }{
		{"MORNING_TIME", c.MorningTime},
		{"EVENING_TIME", c.EveningTime},
		{"WORKDAY_START", c.WorkdayStart},
		{"WORKDAY_END", c.WorkdayEnd},
	}
	for _, cl := range clocks {
		if _, err := plan.ParseClock(cl.val); err != nil {
			return fmt.Errorf("%s: %w", cl.name, err)
		}
	}
	if w := c.Window(); w.End <= w.Start {
		return fmt.Errorf("WORKDAY_END %s must be after WORKDAY_START %s", c.WorkdayEnd, c.WorkdayStart)
	}
	if c.CleanupDays < 0 {
		return fmt.Errorf("CONTEXT_CLEANUP_DAYS must not be negative, got %d", c.CleanupDays)
	}
	switch c.ContextBackend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("CONTEXT_BACKEND must be sqlite or redis, got %q", c.ContextBackend)
	}
	if c.ValidateSignature && (c.TwilioAuthToken == "" || c.PublicURL == "") {
		return fmt.Errorf("TWILIO_VALIDATE_SIGNATURE needs TWILIO_AUTH_TOKEN and PUBLIC_URL")
	}
	return nil
}

// Location returns the default zone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Window returns the working-hours window used for focus blocks.
func (c *Config) Window() plan.Window {
	start, err1 := plan.ParseClock(c.WorkdayStart)
	end, err2 := plan.ParseClock(c.WorkdayEnd)
	if err1 != nil || err2 != nil {
		return plan.DefaultWindow
	}
	return plan.Window{Start: start, End: end}
}

// APIKey picks the credential for the configured provider.
func (c *Config) APIKey() string {
	if c.LLMProvider == "openai" {
		return c.OpenAIKey
	}
	return c.AnthropicKey
}

// SMSEnabled reports whether outbound SMS is configured.
func (c *Config) SMSEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioPhoneNumber != ""
}
