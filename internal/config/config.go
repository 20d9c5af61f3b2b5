package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/claimloop/claimloop/internal/platform/db"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	DBHealthPeriod    time.Duration `mapstructure:"DB_HEALTH_CHECK_PERIOD"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	AMQPURL           string        `mapstructure:"AMQP_URL"`
	AMQPExchange      string        `mapstructure:"AMQP_EXCHANGE"`
	DefaultFeePercent float64       `mapstructure:"DEFAULT_FEE_PERCENT"`
	PatternRetryMax   int           `mapstructure:"PATTERN_RETRY_MAX"`
	ClaimLockTTL      time.Duration `mapstructure:"CLAIM_LOCK_TTL"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL       string        `mapstructure:"AUTH_JWKS_URL"`
	JWTSigningKey     string        `mapstructure:"JWT_SIGNING_KEY"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DB_HEALTH_CHECK_PERIOD", "1m")
	v.SetDefault("AMQP_EXCHANGE", "claimloop.events")
	v.SetDefault("DEFAULT_FEE_PERCENT", 20.0)
	v.SetDefault("PATTERN_RETRY_MAX", 5)
	v.SetDefault("CLAIM_LOCK_TTL", "30s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DB_CONN_MAX_LIFETIME")
	v.BindEnv("DB_HEALTH_CHECK_PERIOD")
	v.BindEnv("REDIS_URL")
	v.BindEnv("AMQP_URL")
	v.BindEnv("AMQP_EXCHANGE")
	v.BindEnv("DEFAULT_FEE_PERCENT")
	v.BindEnv("PATTERN_RETRY_MAX")
	v.BindEnv("CLAIM_LOCK_TTL")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("JWT_SIGNING_KEY")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ==========================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ==========================================================")
	}

	return cfg, nil
}

// PoolConfig maps the database settings onto the pool tunables.
func (c *Config) PoolConfig() db.PoolConfig {
	return db.PoolConfig{
		MaxConns:          c.DBMaxConns,
		MinConns:          c.DBMinConns,
		MaxConnLifetime:   c.DBConnMaxLifetime,
		HealthCheckPeriod: c.DBHealthPeriod,
	}
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In non-development
// modes a JWT verification source must be configured, and the gain-share
// default must lie inside the bounds the calculator enforces per event.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.JWTSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or JWT_SIGNING_KEY must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}

	if c.DefaultFeePercent < 0 || c.DefaultFeePercent > 50 {
		return fmt.Errorf("DEFAULT_FEE_PERCENT must be between 0 and 50, got %v", c.DefaultFeePercent)
	}

	if c.PatternRetryMax < 1 {
		return fmt.Errorf("PATTERN_RETRY_MAX must be at least 1, got %d", c.PatternRetryMax)
	}

	if c.ClaimLockTTL <= 0 {
		return fmt.Errorf("CLAIM_LOCK_TTL must be positive, got %v", c.ClaimLockTTL)
	}

	return nil
}
