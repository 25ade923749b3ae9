package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr     string `envconfig:"ADDR" default:":8080"`
	Env      string `envconfig:"ENV" default:"production"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseDSN  string `envconfig:"DB_DSN" required:"true"`
	MaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`

	Redis  RedisConfig  `envconfig:"REDIS"`
	Fanout FanoutConfig `envconfig:"FANOUT"`
	S3     S3Config     `envconfig:"S3"`
	WS     WSConfig     `envconfig:"WS"`

	// JWTSecret enables bearer verification on the REST routes when set.
	JWTSecret       string `envconfig:"JWT_SECRET"`
	ConsumerEnabled bool   `envconfig:"CONSUMER_ENABLED" default:"true"`
}

type RedisConfig struct {
	Addr       string `envconfig:"ADDR" default:"localhost:6379"`
	Password   string `envconfig:"PASSWORD"`
	DB         int    `envconfig:"DB" default:"0"`
	MaxRetries int    `envconfig:"MAX_RETRIES" default:"5"`
}

type FanoutConfig struct {
	Topic         string        `envconfig:"TOPIC" default:"notifications-topic"`
	Subscription  string        `envconfig:"SUBSCRIPTION" default:"chat-notifications-sub"`
	Block         time.Duration `envconfig:"BLOCK" default:"5s"`
	ClaimMinIdle  time.Duration `envconfig:"CLAIM_MIN_IDLE" default:"30s"`
	ClaimInterval time.Duration `envconfig:"CLAIM_INTERVAL" default:"15s"`
	BatchSize     int64         `envconfig:"BATCH" default:"16"`
	MaxLen        int64         `envconfig:"MAX_LEN" default:"100000"`
}

type S3Config struct {
	Endpoint        string `envconfig:"ENDPOINT"`
	Region          string `envconfig:"REGION" default:"auto"`
	AccessKeyID     string `envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"SECRET_ACCESS_KEY"`
	Bucket          string `envconfig:"BUCKET"`
	PublicURL       string `envconfig:"PUBLIC_URL"`
	PathStyle       bool   `envconfig:"PATH_STYLE" default:"false"`
}

// Enabled reports whether an attachment bucket is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type WSConfig struct {
	// Base64 images travel inline in sendMessage frames, so the limit is generous.
	MaxMessageSize int64    `envconfig:"MAX_MESSAGE_SIZE" default:"8388608"`
	SendBuffer     int      `envconfig:"SEND_BUFFER" default:"256"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
