package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Log        LogConfig        `yaml:"log"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Invitation InvitationConfig `yaml:"invitation"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	Mode      string `yaml:"mode"`       // debug, release, test
	PublicURL string `yaml:"public_url"` // base URL of the web app, used in e-mails
	APIURL    string `yaml:"api_url"`    // base URL of this API, used in locally signed file links
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig describes the attachment bucket. Driver "supabase" talks to
// Supabase Storage, "memory" keeps objects in process (development and tests).
type StorageConfig struct {
	Driver           string   `yaml:"driver"`
	URL              string   `yaml:"url"`
	ServiceKey       string   `yaml:"service_key"`
	Bucket           string   `yaml:"bucket"`
	TimeoutSeconds   int      `yaml:"timeout_seconds"`
	MaxFileSize      int64    `yaml:"max_file_size"`
	AllowedMIMETypes []string `yaml:"allowed_mime_types"`
	SigningSecret    string   `yaml:"signing_secret"` // memory driver only
}

// InvitationConfig selects how invitations are issued.
// Mode "credentials" hands a generated username/password to the inviter;
// mode "token" e-mails a single-use accept link.
type InvitationConfig struct {
	Mode          string `yaml:"mode"`
	TTLHours      int    `yaml:"ttl_hours"`
	AcceptURLBase string `yaml:"accept_url_base"`
}

type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	UseTLS   bool   `yaml:"use_tls"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

const (
	InvitationModeCredentials = "credentials"
	InvitationModeToken       = "token"
)

// DefaultAllowedMIMETypes is the bucket allow-list for application attachments.
var DefaultAllowedMIMETypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
	"text/csv",
}

// DefaultMaxFileSize is the bucket size ceiling (10 MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		// Unmarshal over the defaults so partial files keep sane values.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// A .env next to the config file fills variables the process did not set.
	if err := loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, err
	}

	cfg.overrideFromEnv()
	cfg.normalize()
	GlobalConfig = cfg
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      "8080",
			Mode:      "debug",
			PublicURL: "http://localhost:5173",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "contractorhub.db",
		},
		JWT: JWTConfig{
			Secret:     "contractorhub-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Log: LogConfig{
			Level: "info",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Storage: StorageConfig{
			Driver:           "memory",
			Bucket:           "application-documents",
			TimeoutSeconds:   30,
			MaxFileSize:      DefaultMaxFileSize,
			AllowedMIMETypes: append([]string(nil), DefaultAllowedMIMETypes...),
			SigningSecret:    "contractorhub-storage-signing-secret",
		},
		Invitation: InvitationConfig{
			Mode:     InvitationModeToken,
			TTLHours: 168,
		},
		SMTP: SMTPConfig{
			Enabled: false,
			Port:    587,
		},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 10,
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if publicURL := os.Getenv("PUBLIC_URL"); publicURL != "" {
		c.Server.PublicURL = publicURL
	}
	if apiURL := os.Getenv("API_URL"); apiURL != "" {
		c.Server.APIURL = apiURL
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if driver := os.Getenv("STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	if url := os.Getenv("SUPABASE_URL"); url != "" {
		c.Storage.URL = url
		if os.Getenv("STORAGE_DRIVER") == "" {
			c.Storage.Driver = "supabase"
		}
	}
	if key := os.Getenv("SUPABASE_SERVICE_ROLE_KEY"); key != "" {
		c.Storage.ServiceKey = key
	}
	if bucket := os.Getenv("STORAGE_BUCKET"); bucket != "" {
		c.Storage.Bucket = bucket
	}
	if mode := os.Getenv("INVITATION_MODE"); mode != "" {
		c.Invitation.Mode = mode
	}
	if ttl := os.Getenv("INVITATION_TTL_HOURS"); ttl != "" {
		if hours, err := strconv.Atoi(ttl); err == nil {
			c.Invitation.TTLHours = hours
		}
	}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		c.SMTP.Host = host
		c.SMTP.Enabled = true
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		c.SMTP.Username = user
	}
	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		c.SMTP.Password = pass
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// normalize fills values a partial config file may have zeroed.
func (c *Config) normalize() {
	if c.Server.APIURL == "" {
		c.Server.APIURL = "http://localhost:" + c.Server.Port
	}
	if c.Invitation.Mode != InvitationModeCredentials {
		c.Invitation.Mode = InvitationModeToken
	}
	if c.Invitation.TTLHours <= 0 {
		c.Invitation.TTLHours = 168
	}
	if c.Invitation.AcceptURLBase == "" {
		c.Invitation.AcceptURLBase = strings.TrimRight(c.Server.PublicURL, "/") + "/accept-invite"
	}
	if c.Storage.MaxFileSize <= 0 {
		c.Storage.MaxFileSize = DefaultMaxFileSize
	}
	if len(c.Storage.AllowedMIMETypes) == 0 {
		c.Storage.AllowedMIMETypes = append([]string(nil), DefaultAllowedMIMETypes...)
	}
	if c.Storage.TimeoutSeconds <= 0 {
		c.Storage.TimeoutSeconds = 30
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}
