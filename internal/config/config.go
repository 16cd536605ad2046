package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort     uint16   `env:"HTTP_SERVER_PORT"     envDefault:"8085" validate:"min=1000,max=65535"`
	CorsAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"taskflow_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"taskflow_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"taskflow_db"`

	RedisEnabled bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost    string `env:"REDIS_HOST"    envDefault:"localhost"`
	RedisPort    uint16 `env:"REDIS_PORT"    envDefault:"6379" validate:"min=1000,max=65535"`

	JwtSecret   string `env:"JWT_SECRET"   validate:"required,min=16"`
	JwtIssuer   string `env:"JWT_ISSUER"`
	JwtAudience string `env:"JWT_AUDIENCE" envDefault:"authenticated"`

	WsSweepInterval       time.Duration `env:"WS_SWEEP_INTERVAL"       envDefault:"1m"  validate:"gt=0"`
	WsInactivityThreshold time.Duration `env:"WS_INACTIVITY_THRESHOLD" envDefault:"5m"  validate:"gt=0"`
	WsSendBuffer          int           `env:"WS_SEND_BUFFER"          envDefault:"64"  validate:"min=1,max=4096"`
	MembershipCacheTTL    time.Duration `env:"MEMBERSHIP_CACHE_TTL"    envDefault:"30s" validate:"min=0"`

	LogLevel       string `env:"LOG_LEVEL"       envDefault:"info" validate:"oneof=debug info warn error"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}
	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
