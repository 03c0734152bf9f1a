package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	FeishuAppID             string `env:"FEISHU_APP_ID,required"`
	FeishuAppSecret         string `env:"FEISHU_APP_SECRET,required"`
	FeishuEncryptKey        string `env:"FEISHU_ENCRYPT_KEY,required"`
	FeishuVerificationToken string `env:"FEISHU_VERIFICATION_TOKEN,required"`
	FeishuBaseURL           string `env:"FEISHU_BASE_URL" envDefault:"https://open.feishu.cn/open-apis"`
	FeishuRateLimitPerSec   int    `env:"FEISHU_RATE_LIMIT_PER_SEC" envDefault:"20"`

	GeminiAPIKey string `env:"GEMINI_API_KEY,required"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	DatabaseURL        string `env:"DATABASE_URL,required"`
	RedisURL           string `env:"REDIS_URL,required"`
	ServiceToken       string `env:"SERVICE_TOKEN,required"`
	KnowledgeURL       string `env:"KNOWLEDGE_URL"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	PublicBaseURL      string `env:"PUBLIC_BASE_URL" envDefault:""`
	AssistantTimezone  string `env:"ASSISTANT_TIMEZONE" envDefault:"Asia/Shanghai"`
	CalendarWriteTools bool   `env:"CALENDAR_WRITE_TOOLS" envDefault:"false"`

	UserRateLimitPerMin int `env:"USER_RATE_LIMIT_PER_MIN" envDefault:"20"`
	DedupTTLSeconds     int `env:"DEDUP_TTL_SECONDS" envDefault:"600"`

	SentryDSN   string `env:"SENTRY_DSN"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

// RetrieverURL is the knowledge retrieval endpoint the knowledge tool calls.
// Without an explicit KNOWLEDGE_URL it points at this server's own endpoint.
func (c *Config) RetrieverURL() string {
	if c.KnowledgeURL != "" {
		return c.KnowledgeURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", c.Port, KnowledgeRetrievePath)
}

func (c *Config) publicBase() string {
	base := strings.TrimRight(c.PublicBaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	return base
}

// OAuthRedirectURL is the callback registered with the Feishu app.
func (c *Config) OAuthRedirectURL() string {
	return c.publicBase() + OAuthCallbackPath
}

// AuthLinkURL is the link handed to users who have not granted calendar
// access yet.
func (c *Config) AuthLinkURL() string {
	return c.publicBase() + OAuthAuthorizePath
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.AssistantTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ASSISTANT_TIMEZONE %q: %w", c.AssistantTimezone, err)
	}
	return loc, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Validate() error {
	if c.TokenEncryptionKey != "" && len(c.TokenEncryptionKey) != 64 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be 32 bytes hex-encoded (64 chars, generate with: openssl rand -hex 32)")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.IsProduction() {
		if err := validateSecret("SERVICE_TOKEN", c.ServiceToken); err != nil {
			return err
		}
		if c.PublicBaseURL == "" {
			log.Warn().Msg("PUBLIC_BASE_URL is empty in production: OAuth redirect will point at localhost")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.TokenEncryptionKey == "" {
			log.Warn().Msg("TOKEN_ENCRYPTION_KEY is empty in production: user tokens will not be encrypted at rest")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
