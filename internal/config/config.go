package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process configuration, read from the environment (and a
// .env file when present).
type Config struct {
	ServerAddr    string `mapstructure:"SERVER_ADDR"`
	StorageDriver string `mapstructure:"STORAGE_DRIVER"` // memory or postgres

	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	DBTimezone string `mapstructure:"DB_TIMEZONE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"` // empty keeps events in-process
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	JWTSecret   string `mapstructure:"JWT_SECRET"`
	MileageRate string `mapstructure:"MILEAGE_RATE"`
	DeviceName  string `mapstructure:"DEVICE_NAME"`
	FeedBuffer  int    `mapstructure:"FEED_BUFFER"`

	// bcrypt hash of the passcode exchanged for a token; empty disables issuance
	PasscodeHash string `mapstructure:"PASSCODE_HASH"`

	LogFile  string `mapstructure:"LOG_FILE"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

var defaults = map[string]any{
	"SERVER_ADDR":    "0.0.0.0:8080",
	"STORAGE_DRIVER": "memory",
	"DB_HOST":        "localhost",
	"DB_PORT":        "5432",
	"DB_USER":        "postgres",
	"DB_PASSWORD":    "password",
	"DB_NAME":        "control_miles",
	"DB_SSLMODE":     "disable",
	"DB_TIMEZONE":    "UTC",
	"REDIS_ADDR":     "",
	"REDIS_PASSWORD": "",
	"JWT_SECRET":     "supersecret",
	"PASSCODE_HASH":  "",
	"MILEAGE_RATE":   "0.67",
	"DEVICE_NAME":    "control_miles-server",
	"FEED_BUFFER":    256,
	"LOG_FILE":       "./logs/app.log",
	"LOG_LEVEL":      "debug",
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found – relying on env vars")
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	switch cfg.StorageDriver {
	case "memory", "postgres":
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	return cfg, nil
}

// DSN builds the Postgres data source name.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode, c.DBTimezone,
	)
}
