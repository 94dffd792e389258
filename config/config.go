package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// EnvPrefix: переменные окружения вида CONSULT_HTTP_ADDR перекрывают YAML.
const EnvPrefix = "CONSULT"

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type HTTP struct {
	Addr           string        `yaml:"addr" validate:"required"`          // ":8080"
	ReadTimeout    time.Duration `yaml:"readTimeout" split_words:"true"`    // "15s"
	WriteTimeout   time.Duration `yaml:"writeTimeout" split_words:"true"`   // 0: без лимита, иначе рвёт /ws
	IdleTimeout    time.Duration `yaml:"idleTimeout" split_words:"true"`    // "60s"
	RequestTimeout time.Duration `yaml:"requestTimeout" split_words:"true"` // "10s", кроме /ws
}

type GRPC struct {
	Addr        string        `yaml:"addr"`                           // ":9090", пусто: не поднимать
	CallTimeout time.Duration `yaml:"callTimeout" split_words:"true"` // "10s"
}

type Logging struct {
	Env       string `yaml:"env" validate:"omitempty,oneof=dev stage prod"` // dev|stage|prod
	Service   string `yaml:"service"`                                       // consult-service
	Version   string `yaml:"version"`                                       // v0.1.0
	Backend   string `yaml:"backend" validate:"omitempty,oneof=std zap"`    // std|zap
	AddSource bool   `yaml:"addSource" split_words:"true"`
	Debug     bool   `yaml:"debug"`
}

type Storage struct {
	Driver        string        `yaml:"driver" validate:"omitempty,oneof=badger postgres mongo"`
	AppendTimeout time.Duration `yaml:"appendTimeout" split_words:"true"`                        // "5s"
}

type Badger struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory" split_words:"true"`
}

type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns" split_words:"true"`
	Migrate  bool   `yaml:"migrate"`                     // создать схему при старте
}

type Mongo struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type WS struct {
	PingEvery      time.Duration `yaml:"pingEvery" split_words:"true"`
	WriteWait      time.Duration `yaml:"writeWait" split_words:"true"`
	MaxMessageSize int64         `yaml:"maxMessageSize" split_words:"true" validate:"gte=0"`
	SendQueue      int           `yaml:"sendQueue" split_words:"true" validate:"gte=0"`
}

type Auth struct {
	// Пусто означает dev-режим, личность берётся из X-User-ID / X-User-Role.
	PublicKeyPath string        `yaml:"publicKeyPath" split_words:"true"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ClockSkew     time.Duration `yaml:"clockSkew" split_words:"true"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins" split_words:"true"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http" envconfig:"HTTP"`
	GRPC     GRPC     `yaml:"grpc" envconfig:"GRPC"`
	Logging  Logging  `yaml:"logging" envconfig:"LOG"`
	Storage  Storage  `yaml:"storage" envconfig:"STORAGE"`
	Badger   Badger   `yaml:"badger" envconfig:"BADGER"`
	Postgres Postgres `yaml:"postgres" envconfig:"POSTGRES"`
	Mongo    Mongo    `yaml:"mongo" envconfig:"MONGO"`
	WS       WS       `yaml:"ws" envconfig:"WS"`
	Auth     Auth     `yaml:"auth" envconfig:"AUTH"`
	CORS     CORS     `yaml:"cors" envconfig:"CORS"`
}

// LoadConfig: YAML (CONFIG_PATH, по умолчанию ./config/config.yaml) → .env → окружение → проверка.
// Отсутствующий YAML допустим, если всё пришло из окружения.
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && os.Getenv("CONFIG_PATH") == "":
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	// .env не обязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// установка дефолтов, если значения не указаны
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverBadger
	}
	switch c.Storage.Driver {
	case DriverBadger:
		if c.Badger.Path == "" && !c.Badger.InMemory {
			return errors.New("badger.path is required (or badger.inMemory)")
		}
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri is required")
		}
		if c.Mongo.Database == "" {
			c.Mongo.Database = "consult"
		}
	}
	if c.Storage.AppendTimeout <= 0 {
		c.Storage.AppendTimeout = 5 * time.Second
	}

	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	// WriteTimeout не ставим по умолчанию: он оборвал бы долгие websocket-сессии.
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 10 * time.Second
	}
	if c.GRPC.CallTimeout == 0 {
		c.GRPC.CallTimeout = 10 * time.Second
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "consult-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	if c.Auth.PublicKeyPath != "" && c.Auth.Issuer == "" {
		return errors.New("auth.issuer is required with auth.publicKeyPath")
	}
	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = 30 * time.Second
	}

	c.CORS.AllowedOrigins = lo.Uniq(lo.Compact(lo.Map(c.CORS.AllowedOrigins, func(o string, _ int) string {
		return strings.TrimSpace(o)
	})))
	return nil
}
