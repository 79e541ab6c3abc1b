package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env            string      `env:"ENV" env-default:"dev"`
	DatabaseURL    string      `env:"DATABASE_URL" env-required:"true"`
	LogLevel       string      `env:"LOG_LEVEL" env-default:"info"`
	HTTP           HTTPServer  `env-prefix:"HTTP_"`
	JWTSecret      string      `env:"JWT_SECRET" env-required:"true"`
	Governance     Governance
	Outbox         OutboxRelay `env-prefix:"OUTBOX_"`
	OTELEndpoint   string      `env:"OTEL_ENDPOINT"`
	MigrateOnStart bool        `env:"MIGRATE_ON_START" env-default:"true"`
}

type HTTPServer struct {
	Addr           string        `env:"ADDR" env-default:":8080"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" env-default:"10s"`
}

type Governance struct {
	DisputeVotingPeriod     time.Duration `env:"DISPUTE_VOTING_PERIOD" env-default:"168h"`
	LedgerConcurrency       int           `env:"LEDGER_CONCURRENCY" env-default:"4"`
	TokenPlaceholderBalance float64       `env:"TOKEN_PLACEHOLDER_BALANCE" env-default:"1000"`
	CompensationTimeout     time.Duration `env:"COMPENSATION_TIMEOUT" env-default:"30s"`
}

type OutboxRelay struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" env-default:"2s"`
	BatchSize    int           `env:"BATCH_SIZE" env-default:"10"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" env-default:"5"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read environment: %w", err)
	}
	if cfg.Governance.LedgerConcurrency <= 0 {
		return nil, fmt.Errorf("config: LEDGER_CONCURRENCY must be positive")
	}
	return &cfg, nil
}

// MustLoad is Load for process entry points.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic("failed to read config from environment: " + err.Error())
	}
	return cfg
}
