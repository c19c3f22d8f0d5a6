package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port             int                   `yaml:"port"`
	Env              string                `yaml:"env"` // "development" | "production"
	Timezone         string                `yaml:"timezone"`
	Database         DatabaseRuntimeConfig `yaml:"database"`
	Redis            RedisRuntimeConfig    `yaml:"redis"`
	JWT              JWTConfig             `yaml:"jwt"`
	Session          SessionConfig         `yaml:"session"`
	Cache            CacheConfig           `yaml:"cache"`
	Mail             MailConfig            `yaml:"mail"`
	Security         SecurityConfig        `yaml:"security"`
	Paths            RuntimePathsConfig    `yaml:"paths"`
	LogLevel         string                `yaml:"log_level"`
	FrontendURL      string                `yaml:"frontend_url"`
	AdminEmail       string                `yaml:"admin_email"`
	SuperAdminEmails []string              `yaml:"super_admin_emails"`
	AllowedOrigins   []string              `yaml:"allowed_origins"`
}

type DatabaseRuntimeConfig struct {
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	Charset   string            `yaml:"charset"`
	ParseTime bool              `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type RedisRuntimeConfig struct {
	URL      string            `yaml:"url"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	DB       int               `yaml:"db"`
	TLS      bool              `yaml:"tls"`
	Scheme   string            `yaml:"scheme"`
	Params   map[string]string `yaml:"params"`
}

type JWTConfig struct {
	Secret    string        `yaml:"secret"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	AccessTTL time.Duration `yaml:"access_ttl"`
}

type SessionConfig struct {
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	MaxDevices int           `yaml:"max_devices"`
}

type CacheConfig struct {
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	SingleFlight bool          `yaml:"single_flight"`
}

type MailConfig struct {
	Enable    bool   `yaml:"enable"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Pass      string `yaml:"pass"`
	From      string `yaml:"from"`
	ReplyTo   string `yaml:"reply_to"`
	ResendKey string `yaml:"resend_key"`
	Workers   int    `yaml:"workers"`
}

type SecurityConfig struct {
	BcryptCost     int   `yaml:"bcrypt_cost"`
	RateLimit      int64 `yaml:"rate_limit_per_second"`
	DisableLimiter bool  `yaml:"disable_rate_limit"`
}

type RuntimePathsConfig struct {
	Logs string `yaml:"logs"`
}

// Load reads the YAML file at configPath, applies defaults and validates it.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	return Parse(content, path)
}

// Parse decodes YAML content. Unknown keys are rejected.
func Parse(content []byte, source string) (*AppConfig, error) {
	cfg := defaultAppConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file %q: %w", source, err)
	}

	applyEnv(&cfg, os.LookupEnv)
	normalize(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", source, err)
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port:     defaultPort,
		Env:      defaultEnv,
		Timezone: defaultTimezone,
		Database: DatabaseRuntimeConfig{
			Host:      defaultDBHost,
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Password:  defaultDBPassword,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		JWT: JWTConfig{
			Issuer:    defaultJWTIssuer,
			Audience:  defaultJWTAudience,
			AccessTTL: defaultAccessTTL,
		},
		Session: SessionConfig{
			RefreshTTL: defaultRefreshTTL,
			MaxDevices: defaultMaxDevices,
		},
		Cache: CacheConfig{
			DefaultTTL: defaultCacheTTL,
		},
		Mail: MailConfig{
			Port:    587,
			Workers: 2,
		},
		Security: SecurityConfig{
			BcryptCost: defaultBcryptCost,
			RateLimit:  50,
		},
	}
}

// applyEnv lets deployments keep secrets out of the YAML file.
func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) {
	if v, ok := lookup("LEARNHUB_JWT_SECRET"); ok && strings.TrimSpace(v) != "" {
		cfg.JWT.Secret = v
	}
	if v, ok := lookup("LEARNHUB_DATABASE_DSN"); ok && strings.TrimSpace(v) != "" {
		cfg.Database.DSN = v
	}
	if v, ok := lookup("LEARNHUB_REDIS_URL"); ok && strings.TrimSpace(v) != "" {
		cfg.Redis.URL = v
	}
	if v, ok := lookup("LEARNHUB_SMTP_PASS"); ok && v != "" {
		cfg.Mail.Pass = v
	}
}

func (c *AppConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", c.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database.port %d, expected 1-65535", c.Database.Port)
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis.port %d, expected 1-65535", c.Redis.Port)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("invalid redis.db %d, expected >= 0", c.Redis.DB)
	}
	if len(c.JWT.Secret) < minJWTSecretLength {
		return fmt.Errorf("jwt.secret must be at least %d characters", minJWTSecretLength)
	}
	if c.Session.MaxDevices < 1 {
		return fmt.Errorf("invalid session.max_devices %d, expected >= 1", c.Session.MaxDevices)
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return fmt.Errorf("session.refresh_ttl must exceed jwt.access_ttl")
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		return fmt.Errorf("invalid security.bcrypt_cost %d, expected 4-31", c.Security.BcryptCost)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

func (c *AppConfig) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// LogDir resolves the log directory against the executable directory.
func (c *AppConfig) LogDir() string {
	return ResolveRuntimePath(c.Paths.Logs, "logs")
}

// DSN returns the MySQL connection string.
func (c *AppConfig) DSN() string { return c.Database.DSNValue() }

// RedisURL returns the Redis connection URL.
func (c *AppConfig) RedisURL() string { return c.Redis.URLValue() }

// IsSuperAdmin reports whether email is configured as a super admin.
func (c *AppConfig) IsSuperAdmin(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range c.SuperAdminEmails {
		if e == email {
			return true
		}
	}
	return false
}
