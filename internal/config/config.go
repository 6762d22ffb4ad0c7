package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "INADIALOG"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "inadialog.db"
	defaultLogLevel           = "info"
	defaultTokenIssuer        = "inadialog-auth"
	defaultTokenAudience      = "inadialog-api"
	defaultTokenTTLMinutes    = 24 * 60
	defaultSessionCookieName  = "app_session"
	defaultSessionIssuer      = "tauth"
	defaultFadeInterval       = time.Second
	defaultCursorColor        = "blue"
	defaultAllowedOriginsList = "*"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	AllowedOrigins []string

	TokenSigningSecret string
	TokenIssuer        string
	TokenAudience      string
	TokenTTL           time.Duration

	SessionSigningSecret string
	SessionCookieName    string
	SessionIssuer        string

	FadeInterval time.Duration
	CursorColor  string
}

// SessionCookiesEnabled reports whether cookie sessions are accepted.
func (c AppConfig) SessionCookiesEnabled() bool {
	return strings.TrimSpace(c.SessionSigningSecret) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", defaultAllowedOriginsList)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("session.cookie_name", defaultSessionCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("presence.fade_interval", defaultFadeInterval)
	configViper.SetDefault("presence.cursor_color", defaultCursorColor)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		AllowedOrigins:       splitList(configViper.GetString("http.allowed_origins")),
		TokenSigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenIssuer:          configViper.GetString("auth.issuer"),
		TokenAudience:        configViper.GetString("auth.audience"),
		TokenTTL:             time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		FadeInterval:         configViper.GetDuration("presence.fade_interval"),
		CursorColor:          strings.ToLower(strings.TrimSpace(configViper.GetString("presence.cursor_color"))),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TokenSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.FadeInterval <= 0 {
		return fmt.Errorf("presence.fade_interval must be positive")
	}
	if c.SessionCookiesEnabled() && strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required when session.signing_secret is set")
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(part); value != "" {
			values = append(values, value)
		}
	}
	return values
}
