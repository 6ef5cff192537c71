// Package config читает конфигурацию сервисов из окружения.
//
// Перед чтением подгружается .env из рабочей директории, если он есть;
// уже заданные переменные окружения не перезаписываются.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/shaiso/Taskflow/internal/lock"
	"github.com/shaiso/Taskflow/internal/mq"
	"github.com/shaiso/Taskflow/internal/repo"
)

// Значения по умолчанию.
const (
	DefaultRedisURL          = "redis://localhost:6379/0"
	DefaultLockKey           = "scheduler:leader"
	DefaultLockTTL           = 2 * time.Second
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultDispatchBatchSize = 200
	DefaultInProcessInterval = 200 * time.Millisecond
	DefaultHTTPPort          = "8080"
	DefaultDBMaxConns        = 10
)

// Config — конфигурация всех сервисов Taskflow.
// Каждый бинарь использует только нужную ему часть.
type Config struct {
	DBURL      string `validate:"required"`
	DBMaxConns int    `validate:"gte=1"`
	DBMigrate  bool

	RedisURL string `validate:"required"`

	AMQPURL         string `validate:"required"`
	AMQPExchange    string `validate:"required"`
	AMQPQueue       string `validate:"required"`
	AMQPBinding     string `validate:"required"`
	AMQPDLX         string
	WorkerPrefetch  int `validate:"gte=1"`
	MaxRedeliveries int `validate:"gte=1"`

	LockKey           string        `validate:"required"`
	LockTTL           time.Duration `validate:"gte=100ms"`
	PollInterval      time.Duration `validate:"gte=10ms"`
	DispatchBatchSize int           `validate:"gte=1,lte=10000"`
	InProcessInterval time.Duration `validate:"gte=1ms"`

	HTTPPort string `validate:"required,numeric"`

	LogLevel    string `validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	LogFormat   string `validate:"omitempty,oneof=json text"`
	OTelEnabled bool
}

// Load подгружает .env и читает конфигурацию из окружения.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv читает конфигурацию только из окружения и валидирует её.
func FromEnv() (*Config, error) {
	r := &reader{}

	cfg := &Config{
		DBURL:      r.String("DB_URL", repo.DefaultDSN),
		DBMaxConns: r.Int("DB_MAX_CONNS", DefaultDBMaxConns),
		DBMigrate:  r.Bool("DB_MIGRATE", false),

		RedisURL: r.String("REDIS_URL", DefaultRedisURL),

		AMQPURL:         r.String("AMQP_URL", mq.DefaultURL),
		AMQPExchange:    r.String("AMQP_EXCHANGE", mq.DefaultExchange),
		AMQPQueue:       r.String("AMQP_QUEUE", mq.DefaultQueue),
		AMQPBinding:     r.String("AMQP_BINDING", mq.DefaultBinding),
		AMQPDLX:         r.String("AMQP_DLX", ""),
		WorkerPrefetch:  r.Int("WORKER_PREFETCH", mq.DefaultPrefetch),
		MaxRedeliveries: r.Int("MAX_REDELIVERIES", mq.DefaultMaxRedeliveries),

		LockKey:           r.String("LOCK_KEY", DefaultLockKey),
		LockTTL:           r.Duration("LOCK_TTL", DefaultLockTTL),
		PollInterval:      r.Duration("POLL_INTERVAL", DefaultPollInterval),
		DispatchBatchSize: r.Int("DISPATCH_BATCH_SIZE", DefaultDispatchBatchSize),
		InProcessInterval: r.Duration("INPROCESS_INTERVAL", DefaultInProcessInterval),

		HTTPPort: r.String("HTTP_PORT", DefaultHTTPPort),

		LogLevel:    r.String("LOG_LEVEL", "INFO"),
		LogFormat:   r.String("LOG_FORMAT", "json"),
		OTelEnabled: r.Bool("OTEL_ENABLED", false),
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate проверяет значения полей.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("config %s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return errors.Join(msgs...)
		}
		return err
	}
	return nil
}

// Topology собирает топологию шины из конфигурации.
func (c *Config) Topology() mq.Topology {
	return mq.Topology{
		Exchange:           c.AMQPExchange,
		Queue:              c.AMQPQueue,
		Binding:            c.AMQPBinding,
		DeadLetterExchange: c.AMQPDLX,
	}
}

// NewLocker создаёт Locker поверх клиента Redis по REDIS_URL.
// Возвращённую функцию нужно вызвать для закрытия клиента.
func (c *Config) NewLocker() (*lock.Locker, func() error, error) {
	client, err := lock.NewClient(c.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return lock.New(client), client.Close, nil
}

// reader копит ошибки разбора, чтобы сообщить обо всех сразу.
type reader struct {
	errs []error
}

func (r *reader) String(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) Int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return i
}

func (r *reader) Bool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) Duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return d
}
