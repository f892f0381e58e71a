package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultEmbedModel     = "nomic-embed-text"
	DefaultQdrantURL      = "http://localhost:6333"
	DefaultCollection     = "wanna2play_games"
	DefaultEmbedTimeout   = 12 * time.Second
	DefaultVectorTimeout  = 10 * time.Second
	DefaultAppURL         = "http://app:3000"
	DefaultImportWorkers  = 4
	DefaultServerPort     = "3000"
	DefaultDataDir        = "data"
	DefaultStaticDir      = "static"
	DefaultEmbedProvider  = "ollama"
	DefaultLogLevel       = "INFO"
	DefaultLogFormat      = "text"
	DefaultOpenAIModel    = "text-embedding-3-small"
	DefaultOpenAIEndpoint = "https://api.openai.com/v1"
)

// Server holds everything cmd/wanna2play needs to start.
type Server struct {
	Port        string
	StaticDir   string
	DataDir     string
	DatabaseURL string

	EmbedProvider string
	EmbedBaseURL  string
	EmbedModel    string
	EmbedAPIKey   string
	EmbedTimeout  time.Duration

	QdrantURL        string
	QdrantCollection string
	QdrantAPIKey     string
	VectorTimeout    time.Duration

	LogLevel  string
	LogFormat string
}

// Importer holds the settings of cmd/steam-import.
type Importer struct {
	SteamAPIKey string
	SteamID     string
	AppURL      string
	Concurrency int
	Rate        float64

	LogLevel  string
	LogFormat string
}

// LoadServer reads the server configuration from the environment, after
// loading a .env file from the working directory if one exists.
func LoadServer() (Server, error) {
	_ = godotenv.Load()

	cfg := Server{
		Port:        envOrDefault("PORT", DefaultServerPort),
		StaticDir:   envOrDefault("STATIC_DIR", DefaultStaticDir),
		DataDir:     envOrDefault("DATA_DIR", DefaultDataDir),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),

		EmbedProvider: strings.ToLower(envOrDefault("EMBED_PROVIDER", DefaultEmbedProvider)),

		QdrantURL:        strings.TrimRight(envOrDefault("QDRANT_URL", DefaultQdrantURL), "/"),
		QdrantCollection: strings.TrimSpace(envOrUnset("QDRANT_COLLECTION", DefaultCollection)),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),

		LogLevel:  envOrDefault("LOG_LEVEL", DefaultLogLevel),
		LogFormat: envOrDefault("LOG_FORMAT", DefaultLogFormat),
	}

	switch cfg.EmbedProvider {
	case "ollama":
		cfg.EmbedBaseURL = os.Getenv("OLLAMA_BASE_URL")
		cfg.EmbedModel = strings.TrimSpace(envOrUnset("OLLAMA_EMBED_MODEL", DefaultEmbedModel))
	case "openai":
		cfg.EmbedBaseURL = envOrDefault("OPENAI_BASE_URL", DefaultOpenAIEndpoint)
		cfg.EmbedModel = strings.TrimSpace(envOrUnset("OPENAI_EMBED_MODEL", DefaultOpenAIModel))
		cfg.EmbedAPIKey = os.Getenv("OPENAI_API_KEY")
	default:
		return Server{}, fmt.Errorf("unknown EMBED_PROVIDER %q (want ollama or openai)", cfg.EmbedProvider)
	}
	cfg.EmbedBaseURL = strings.TrimRight(strings.TrimSpace(cfg.EmbedBaseURL), "/")

	var err error
	if cfg.EmbedTimeout, err = envDuration("EMBED_TIMEOUT", DefaultEmbedTimeout); err != nil {
		return Server{}, err
	}
	if cfg.VectorTimeout, err = envDuration("VECTOR_TIMEOUT", DefaultVectorTimeout); err != nil {
		return Server{}, err
	}

	return cfg, nil
}

// LoadImporter reads the importer configuration. STEAM_API_KEY and STEAM_ID
// are required.
func LoadImporter() (Importer, error) {
	_ = godotenv.Load()

	cfg := Importer{
		SteamAPIKey: strings.TrimSpace(os.Getenv("STEAM_API_KEY")),
		SteamID:     strings.TrimSpace(os.Getenv("STEAM_ID")),
		AppURL:      strings.TrimRight(strings.TrimSpace(envOrDefault("WANNA2PLAY_APP_URL", DefaultAppURL)), "/"),
		Concurrency: DefaultImportWorkers,
		LogLevel:    envOrDefault("LOG_LEVEL", DefaultLogLevel),
		LogFormat:   envOrDefault("LOG_FORMAT", DefaultLogFormat),
	}

	var missing []string
	if cfg.SteamAPIKey == "" {
		missing = append(missing, "STEAM_API_KEY")
	}
	if cfg.SteamID == "" {
		missing = append(missing, "STEAM_ID")
	}
	if len(missing) > 0 {
		return Importer{}, fmt.Errorf("missing required env var: %s", strings.Join(missing, ", "))
	}

	if v := strings.TrimSpace(os.Getenv("IMPORT_CONCURRENCY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Importer{}, fmt.Errorf("parse IMPORT_CONCURRENCY: %w", err)
		}
		cfg.Concurrency = max(1, n)
	}
	if v := strings.TrimSpace(os.Getenv("IMPORT_RATE")); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Importer{}, fmt.Errorf("parse IMPORT_RATE: %w", err)
		}
		if r < 0 {
			return Importer{}, errors.New("IMPORT_RATE must not be negative")
		}
		cfg.Rate = r
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envOrUnset differs from envOrDefault in that a variable set to the empty
// string stays empty. QDRANT_COLLECTION= is how indexing gets switched off.
func envOrUnset(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
