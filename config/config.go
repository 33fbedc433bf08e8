/*
Package config reads the backend process configuration.

SOURCES (later wins):
  1. Defaults below
  2. .env in the working directory (optional, via godotenv)
  3. Environment variables
  4. Command-line flags

ENVIRONMENT:
  MEDVENTORY_PORT             HTTP port (default 8080)
  MEDVENTORY_DB               SQLite path, ":memory:" for in-memory (default medventory.db)
  MEDVENTORY_REDIS_ADDR       Redis address for the request lock; empty runs without Redis
  MEDVENTORY_ALLOWED_ORIGINS  Comma-separated CORS origins
  MEDVENTORY_EXPIRY_INTERVAL  How often expired lots are closed (default 1h)
  MEDVENTORY_SEED             "true" loads the demo data at startup
  MEDVENTORY_CLASSIFIER       Controlled-substance classifier JSON (see factory)

FLAGS:
  -port -db -redis -seed -expiry-interval
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           int
	DBPath         string
	RedisAddr      string
	AllowedOrigins []string
	ExpiryInterval time.Duration
	Seed           bool
	Classifier     string
}

func Default() Config {
	return Config{
		Port:           8080,
		DBPath:         "medventory.db",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		ExpiryInterval: time.Hour,
	}
}

// Load reads .env, the environment and then args (without the program name).
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[Config] ignoring .env: %v", err)
	}
	return LoadFrom(os.Getenv, args)
}

// LoadFrom is Load without the .env step, reading variables through getenv.
func LoadFrom(getenv func(string) string, args []string) (Config, error) {
	cfg := Default()

	if v := getenv("MEDVENTORY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("MEDVENTORY_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := getenv("MEDVENTORY_DB"); v != "" {
		cfg.DBPath = v
	}
	cfg.RedisAddr = getenv("MEDVENTORY_REDIS_ADDR")
	if v := getenv("MEDVENTORY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := getenv("MEDVENTORY_EXPIRY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("MEDVENTORY_EXPIRY_INTERVAL: %w", err)
		}
		cfg.ExpiryInterval = d
	}
	if v := getenv("MEDVENTORY_SEED"); v != "" {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("MEDVENTORY_SEED: %w", err)
		}
		cfg.Seed = seed
	}
	cfg.Classifier = getenv("MEDVENTORY_CLASSIFIER")

	flags := flag.NewFlagSet("medventory", flag.ContinueOnError)
	flags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flags.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the request lock")
	flags.BoolVar(&cfg.Seed, "seed", cfg.Seed, "Load demo data at startup")
	flags.DurationVar(&cfg.ExpiryInterval, "expiry-interval", cfg.ExpiryInterval, "Lot expiry check interval")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.ExpiryInterval <= 0 {
		return Config{}, fmt.Errorf("expiry interval must be positive, got %s", cfg.ExpiryInterval)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
