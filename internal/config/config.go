package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	BaseURL        string
	DatabaseURL    string
	RedisURL       string
	LogFile        string
	NoEmailVerify  bool
	JWTSecret      string
	AccessTokenTTL time.Duration
	SessionTTL     time.Duration
	TOTPIssuer     string
	Builder        BuilderConfig
	Storage        StorageConfig
	Email          EmailConfig
	TrustedProxies []string
	OAuth          OAuthConfig
}

type BuilderConfig struct {
	APIURL string
	APIKey string
}

type StorageConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

func (s StorageConfig) Enabled() bool {
	return s.Bucket != "" && s.AccessKey != "" && s.SecretKey != ""
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Secure   bool
}

func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.Port != 0 && e.From != ""
}

type OAuthProvider struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type OAuthConfig struct {
	GitHub OAuthProvider
	Google OAuthProvider
}

func Load() (Config, error) {
	clean := func(val string) string {
		return strings.Trim(val, "\"' \t\r\n")
	}

	rawPort := strings.Trim(getenvDefault("EMAIL_SERVER_PORT", "587"), "\"' ")
	emailPort, err := strconv.Atoi(rawPort)
	if err != nil {
		emailPort = 587
	}

	cfg := Config{
		Port:           getenvDefault("PORT", "8080"),
		BaseURL:        getenvDefault("APP_BASE_URL", "http://localhost:3000"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getenvDefault("REDIS_URL", "redis://localhost:6379"),
		LogFile:        getenvDefault("LOG_FILE", "logs/server.log"),
		NoEmailVerify:  parseBool(os.Getenv("NO_EMAIL_VERIFY")),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AccessTokenTTL: parseDuration(os.Getenv("ACCESS_TOKEN_TTL"), 15*time.Minute),
		SessionTTL:     parseDuration(os.Getenv("SESSION_TTL"), 30*24*time.Hour),
		TOTPIssuer:     getenvDefault("TOTP_ISSUER", "Codeloom"),
		TrustedProxies: parseList(os.Getenv("TRUSTED_PROXIES")),
	}

	cfg.Builder = BuilderConfig{
		APIURL: getenvDefault("BUILDER_API_URL", "http://localhost:8031"),
		APIKey: os.Getenv("BUILDER_API_KEY"),
	}

	cfg.Storage = StorageConfig{
		Endpoint:  clean(os.Getenv("STORAGE_ENDPOINT")),
		Region:    getenvDefault("STORAGE_REGION", "auto"),
		Bucket:    clean(os.Getenv("STORAGE_BUCKET")),
		AccessKey: clean(os.Getenv("STORAGE_ACCESS_KEY")),
		SecretKey: clean(os.Getenv("STORAGE_SECRET_KEY")),
	}

	cfg.Email = EmailConfig{
		Host:     clean(os.Getenv("EMAIL_SERVER_HOST")),
		Port:     emailPort,
		Username: clean(os.Getenv("EMAIL_SERVER_USER")),
		Password: clean(os.Getenv("EMAIL_SERVER_PASSWORD")),
		From:     clean(os.Getenv("EMAIL_FROM")),
		Secure:   parseBool(os.Getenv("EMAIL_SERVER_SECURE")),
	}

	cfg.OAuth = OAuthConfig{
		GitHub: OAuthProvider{
			ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			RedirectURL:  getenvDefault("GITHUB_REDIRECT_URL", cfg.BaseURL+"/api/oauth/github/callback"),
		},
		Google: OAuthProvider{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  getenvDefault("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/api/oauth/google/callback"),
		},
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseBool(val string) bool {
	if val == "" {
		return false
	}
	val = strings.ToLower(strings.Trim(val, "\"' "))
	return val == "1" || val == "true" || val == "yes"
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(strings.Trim(val, "\"' "))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseList(val string) []string {
	parts := strings.Split(val, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
