package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	CatalogFS       = "fs"
	CatalogPostgres = "postgres"
)

type Config struct {
	Debug      bool       `env:"DEBUG" envDefault:"false"`
	LogLevel   slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	Port       string     `env:"PORT" envDefault:"3000"`
	MetricPort string     `env:"METRIC_PORT" envDefault:"9090"`
	Domain     string     `env:"DOMAIN" envDefault:"http://localhost:3000"`
	StaticDir  string     `env:"STATIC_DIR" envDefault:"web"`

	// MaxMessagesPerSecond ограничивает входящие сообщения одного соединения
	MaxMessagesPerSecond int `env:"WS_MAX_MESSAGES_PER_SECOND" envDefault:"20"`

	// MaxMessageSize - лимит одного входящего кадра в байтах, очередь с обложками весит много
	MaxMessageSize int64 `env:"WS_MAX_MESSAGE_SIZE" envDefault:"200000000"`

	Sync     SyncConfig
	Media    MediaConfig
	Postgres PostgresConfig
}

// SyncConfig - тайминги протокола, общие для сервера и агентов
type SyncConfig struct {
	ActivityInterval      time.Duration `env:"SYNC_ACTIVITY_INTERVAL" envDefault:"5s"`
	HostResyncInterval    time.Duration `env:"SYNC_HOST_RESYNC_INTERVAL" envDefault:"15s"`
	TracksRetryInterval   time.Duration `env:"SYNC_TRACKS_RETRY_INTERVAL" envDefault:"5s"`
	PresenceTTL           time.Duration `env:"SYNC_PRESENCE_TTL" envDefault:"20s"`
	PresenceSweepInterval time.Duration `env:"SYNC_PRESENCE_SWEEP_INTERVAL" envDefault:"5s"`
	ReconnectDelay        time.Duration `env:"SYNC_RECONNECT_DELAY" envDefault:"1s"`
}

type MediaConfig struct {
	Dir           string `env:"MEDIA_DIR" envDefault:"music_library"`
	MaxUploadSize string `env:"MEDIA_MAX_UPLOAD_SIZE" envDefault:"200M"`

	// Catalog - где хранится список загруженных файлов: fs или postgres
	Catalog string `env:"MEDIA_CATALOG" envDefault:"fs"`
}

type PostgresConfig struct {
	URL string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"roomsync"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err = c.validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) validate() error {
	switch c.Media.Catalog {
	case CatalogFS, CatalogPostgres:
	default:
		return fmt.Errorf("unknown media catalog %q", c.Media.Catalog)
	}

	timings := map[string]time.Duration{
		"SYNC_ACTIVITY_INTERVAL":       c.Sync.ActivityInterval,
		"SYNC_HOST_RESYNC_INTERVAL":    c.Sync.HostResyncInterval,
		"SYNC_TRACKS_RETRY_INTERVAL":   c.Sync.TracksRetryInterval,
		"SYNC_PRESENCE_TTL":            c.Sync.PresenceTTL,
		"SYNC_PRESENCE_SWEEP_INTERVAL": c.Sync.PresenceSweepInterval,
		"SYNC_RECONNECT_DELAY":         c.Sync.ReconnectDelay,
	}
	for name, d := range timings {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("WS_MAX_MESSAGES_PER_SECOND must be positive, got %d", c.MaxMessagesPerSecond)
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("WS_MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	}

	return nil
}
