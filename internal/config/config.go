package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server     ServerConfig
	MongoDB    MongoDBConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Keycloak   KeycloakConfig
	JWT        JWTConfig
	Cookie     CookieConfig
	Revocation RevocationConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	Environment    string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type PostgresConfig struct {
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type KeycloakConfig struct {
	URL      string
	Realm    string
	ClientID string
}

// Issuer returns the realm issuer URL, or "" when federated login is not configured.
func (k KeycloakConfig) Issuer() string {
	if k.URL == "" || k.Realm == "" {
		return ""
	}
	return strings.TrimRight(k.URL, "/") + "/realms/" + k.Realm
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

type CookieConfig struct {
	Domain     string
	Path       string
	Secure     bool
	RefreshTTL time.Duration
}

// RevocationConfig selects the revocation store: "none", "memory", "redis", "postgres" or "mongo".
type RevocationConfig struct {
	Backend string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
	Window  time.Duration
}

type LogConfig struct {
	Level string
	JSON  bool
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5001")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MONGODB_DATABASE", "jwtsession")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("POSTGRES_AUTO_MIGRATE", true)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("KEYCLOAK_CLIENT_ID", "jwtsession")
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", 5)
	v.SetDefault("COOKIE_PATH", "/")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("REFRESH_COOKIE_TTL", 43200)
	v.SetDefault("REVOCATION_BACKEND", "")
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_WINDOW", 1)
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Host:           v.GetString("SERVER_HOST"),
			Environment:    v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Postgres: PostgresConfig{
			DSN:         v.GetString("POSTGRES_DSN"),
			AutoMigrate: v.GetBool("POSTGRES_AUTO_MIGRATE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Keycloak: KeycloakConfig{
			URL:      v.GetString("KEYCLOAK_URL"),
			Realm:    v.GetString("KEYCLOAK_REALM"),
			ClientID: v.GetString("KEYCLOAK_CLIENT_ID"),
		},
		JWT: JWTConfig{
			Secret:         os.Getenv("JWT_SECRET"),
			AccessTokenTTL: time.Duration(v.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
		},
		Cookie: CookieConfig{
			Domain:     v.GetString("COOKIE_DOMAIN"),
			Path:       v.GetString("COOKIE_PATH"),
			Secure:     v.GetBool("COOKIE_SECURE"),
			RefreshTTL: time.Duration(v.GetInt("REFRESH_COOKIE_TTL")) * time.Minute,
		},
		Revocation: RevocationConfig{
			Backend: strings.ToLower(v.GetString("REVOCATION_BACKEND")),
		},
		RateLimit: RateLimitConfig{
			Enabled: v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:     v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:   v.GetInt("RATE_LIMIT_BURST"),
			Window:  time.Duration(v.GetInt("RATE_LIMIT_WINDOW")) * time.Second,
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			JSON:  v.GetBool("LOG_JSON"),
		},
	}

	if cfg.JWT.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.Revocation.Backend == "" {
		cfg.Revocation.Backend = defaultBackend(cfg)
	}
	switch cfg.Revocation.Backend {
	case "none", "memory", "redis", "postgres", "mongo":
	default:
		return nil, errors.New("REVOCATION_BACKEND must be one of none, memory, redis, postgres, mongo")
	}

	return cfg, nil
}

// defaultBackend picks the first configured shared store, else stays stateless.
func defaultBackend(cfg *Config) string {
	switch {
	case cfg.Redis.Addr() != "":
		return "redis"
	case cfg.Postgres.DSN != "":
		return "postgres"
	default:
		return "none"
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ClientConfig configures the authprobe client binary.
type ClientConfig struct {
	BaseURL        string
	StoragePath    string
	LoginPath      string
	AccessTokenTTL time.Duration
	RenewMargin    time.Duration
	Timeout        time.Duration
}

// LoadClientConfig reads AUTHCLIENT_* variables. No secret is needed on the client side.
func LoadClientConfig() *ClientConfig {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("AUTHCLIENT")
	v.AutomaticEnv()

	v.SetDefault("BASE_URL", "http://localhost:5001")
	v.SetDefault("STORAGE_PATH", "")
	v.SetDefault("LOGIN_PATH", "/login")
	v.SetDefault("ACCESS_TOKEN_TTL", 5)
	v.SetDefault("RENEW_MARGIN", 60)
	v.SetDefault("TIMEOUT", 15)

	return &ClientConfig{
		BaseURL:        strings.TrimRight(v.GetString("BASE_URL"), "/"),
		StoragePath:    v.GetString("STORAGE_PATH"),
		LoginPath:      v.GetString("LOGIN_PATH"),
		AccessTokenTTL: time.Duration(v.GetInt("ACCESS_TOKEN_TTL")) * time.Minute,
		RenewMargin:    time.Duration(v.GetInt("RENEW_MARGIN")) * time.Second,
		Timeout:        time.Duration(v.GetInt("TIMEOUT")) * time.Second,
	}
}
