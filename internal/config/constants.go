package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Outbound HTTP client timeouts
const (
	FeishuHTTPTimeout    = 10 * time.Second
	KnowledgeHTTPTimeout = 30 * time.Second
)

// Token expiry safety margins
const (
	UserTokenMargin        = 300 * time.Second
	ApplicationTokenMargin = 120 * time.Second
)

// Events older than this are dropped without side effects.
const MessageStaleAfter = 2 * time.Minute

// Route paths referenced outside the router
const (
	WebhookPath           = "/webhook/event"
	OAuthAuthorizePath    = "/oauth/authorize"
	OAuthCallbackPath     = "/oauth/callback"
	KnowledgeRetrievePath = "/internal/knowledge/retrieve"
)

// Stored credentials untouched for longer than the refresh token lifetime
// are swept on this interval.
const (
	CredentialSweepInterval = 6 * time.Hour
	CredentialMaxAge        = 30 * 24 * time.Hour
)
