package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requiredEnv = map[string]string{
	"FEISHU_APP_ID":             "cli_test",
	"FEISHU_APP_SECRET":         "app-secret",
	"FEISHU_ENCRYPT_KEY":        "encrypt-key",
	"FEISHU_VERIFICATION_TOKEN": "verify-token",
	"GEMINI_API_KEY":            "gemini-key",
	"DATABASE_URL":              "postgres://localhost/test",
	"REDIS_URL":                 "redis://localhost:6379",
	"SERVICE_TOKEN":             "service-token",
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	for k, v := range requiredEnv {
		t.Setenv(k, v)
	}
}

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("DedupTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{DedupTTLSeconds: 600}
		assert.Equal(t, 600*time.Second, cfg.DedupTTL())
	})

	t.Run("RetrieverURL defaults to local endpoint", func(t *testing.T) {
		cfg := &Config{Port: 8080}
		assert.Equal(t, "http://127.0.0.1:8080/internal/knowledge/retrieve", cfg.RetrieverURL())
	})

	t.Run("RetrieverURL prefers KNOWLEDGE_URL", func(t *testing.T) {
		cfg := &Config{Port: 8080, KnowledgeURL: "https://kb.example.com/retrieve"}
		assert.Equal(t, "https://kb.example.com/retrieve", cfg.RetrieverURL())
	})

	t.Run("OAuthRedirectURL joins public base", func(t *testing.T) {
		cfg := &Config{Port: 8080, PublicBaseURL: "https://bot.example.com/"}
		assert.Equal(t, "https://bot.example.com/oauth/callback", cfg.OAuthRedirectURL())
	})

	t.Run("AuthLinkURL falls back to localhost", func(t *testing.T) {
		cfg := &Config{Port: 9000}
		assert.Equal(t, "http://localhost:9000/oauth/authorize", cfg.AuthLinkURL())
	})

	t.Run("Location resolves timezone", func(t *testing.T) {
		cfg := &Config{AssistantTimezone: "UTC"}
		loc, err := cfg.Location()
		require.NoError(t, err)
		assert.Equal(t, "UTC", loc.String())
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "development accepts short service token",
			cfg:  Config{Environment: "development", ServiceToken: "short", AssistantTimezone: "UTC"},
		},
		{
			name:    "production rejects short service token",
			cfg:     Config{Environment: "production", ServiceToken: "short", AssistantTimezone: "UTC"},
			wantErr: "SERVICE_TOKEN",
		},
		{
			name:    "bad encryption key length",
			cfg:     Config{TokenEncryptionKey: "abcd", AssistantTimezone: "UTC"},
			wantErr: "TOKEN_ENCRYPTION_KEY",
		},
		{
			name:    "unknown timezone",
			cfg:     Config{AssistantTimezone: "Mars/Olympus"},
			wantErr: "ASSISTANT_TIMEZONE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("loads config with defaults", func(t *testing.T) {
		setRequiredEnv(t)
		os.Unsetenv("PORT")
		os.Unsetenv("GEMINI_MODEL")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("ASSISTANT_TIMEZONE")
		os.Unsetenv("CALENDAR_WRITE_TOOLS")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
		assert.Equal(t, "Asia/Shanghai", cfg.AssistantTimezone)
		assert.Equal(t, "https://open.feishu.cn/open-apis", cfg.FeishuBaseURL)
		assert.False(t, cfg.CalendarWriteTools)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("PORT", "3000")
		t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")
		t.Setenv("CALENDAR_WRITE_TOOLS", "true")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "gemini-2.5-pro", cfg.GeminiModel)
		assert.True(t, cfg.CalendarWriteTools)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	for _, key := range []string{"FEISHU_APP_ID", "FEISHU_ENCRYPT_KEY", "GEMINI_API_KEY", "DATABASE_URL", "SERVICE_TOKEN"} {
		t.Run("fails without required "+key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(key, "")
			os.Unsetenv(key)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
