package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	Port           int
	Env            string
	MongoURI       string
	MongoDatabase  string
	JWTSecret      string
	LogLevel       string
	MaxVoteRetries int
	UseMemoryStore bool
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	cfg := Config{
		Env:           envString("APP_ENV", "development"),
		MongoURI:      envString("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: envString("MONGODB_DATABASE", "kuttab_platform"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		LogLevel:      envString("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Port, err = envInt("PORT", 5000); err != nil {
		return Config{}, err
	}
	if cfg.MaxVoteRetries, err = envInt("VOTE_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.MaxVoteRetries < 1 {
		return Config{}, errors.New("VOTE_MAX_RETRIES must be at least 1")
	}
	cfg.UseMemoryStore = envBool("USE_MEMORY_STORE", false)

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET required")
	}

	return cfg, nil
}

func envString(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s env variable", name)
	}
	return value, nil
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
