package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/david/grant-discovery/internal/ingest"
)

// Config captures runtime configuration for the server and the CLI tools.
type Config struct {
	DatabaseURL    string
	Port           string
	ProfilePath    string
	SourcesPath    string
	VocabularyPath string
	Fetcher        string // "http", "colly" or "simple"
	FetchTimeout   time.Duration
	SourceDelay    time.Duration
	UserAgent      string
	CORSOrigins    []string
	AdminSecret    string
	JWTSecret      string
	MaxUploadBytes int64
}

// FromEnv loads .env when present, then reads the environment.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		Port:           getEnv("PORT", "8081"),
		ProfilePath:    getEnv("PROFILE_PATH", ""),
		SourcesPath:    getEnv("SOURCES_PATH", ""),
		VocabularyPath: getEnv("VOCABULARY_PATH", ""),
		Fetcher:        getEnv("FETCHER", "http"),
		FetchTimeout:   30 * time.Second,
		SourceDelay:    time.Second,
		UserAgent:      getEnv("USER_AGENT", ingest.DefaultUserAgent),
		CORSOrigins:    []string{"http://localhost:4200"},
		MaxUploadBytes: 20 << 20,
	}

	if v := os.Getenv("FETCH_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return Config{}, fmt.Errorf("parse FETCH_TIMEOUT_SECONDS: invalid value %q", v)
		}
		cfg.FetchTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("SOURCE_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return Config{}, fmt.Errorf("parse SOURCE_DELAY_MS: invalid value %q", v)
		}
		cfg.SourceDelay = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		mb, err := strconv.Atoi(v)
		if err != nil || mb <= 0 {
			return Config{}, fmt.Errorf("parse MAX_UPLOAD_MB: invalid value %q", v)
		}
		cfg.MaxUploadBytes = int64(mb) << 20
	}

	switch cfg.Fetcher {
	case "http", "colly", "simple":
	default:
		return Config{}, fmt.Errorf("FETCHER must be http, colly or simple, got %q", cfg.Fetcher)
	}

	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	var err error
	if cfg.AdminSecret, err = secret("ADMIN_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret, err = secret("JWT_SECRET"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// FetchConfig returns the fetcher settings derived from the environment.
func (c Config) FetchConfig() ingest.FetchConfig {
	return ingest.FetchConfig{
		TimeoutSeconds: int(c.FetchTimeout / time.Second),
		RateLimitRPS:   1,
		UserAgent:      c.UserAgent,
	}
}

// secret reads key, falling back to a random value that lives only as long
// as the process.
func secret(key string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v, nil
	}

	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate %s fallback: %w", key, err)
	}
	log.Printf("%s is not set; using ephemeral in-memory fallback secret", key)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
