package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Chunking  ChunkingConfig
	Ingestion IngestionConfig
	Jobs      JobsConfig
	Export    ExportConfig
	Extract   ExtractConfig
	Arxiv     ArxivConfig
}

type ServerConfig struct {
	Port        int
	APIToken    string
	CORSOrigins string
}

type LogConfig struct {
	Level string
	File  string
}

type StorageConfig struct {
	DataDir     string
	Driver      string
	PostgresURL string
}

type ChunkingConfig struct {
	ChunkSize        int
	Overlap          int
	MinChunkSize     int
	SentenceLookback int
}

type IngestionConfig struct {
	// Threads is "auto" or a positive integer.
	Threads       string
	QueueCapacity int
	SubmitTimeout time.Duration
	Mode          string
	// StaleAfter is how long a PROCESSING audit record blocks re-ingestion.
	StaleAfter time.Duration
}

type JobsConfig struct {
	MaxConcurrent int
	QueueCapacity int
	Retention     time.Duration
}

type ExportConfig struct {
	Enabled  bool
	Path     string
	S3Bucket string
	S3Prefix string
	S3Region string
}

type ExtractConfig struct {
	Backend string
}

type ArxivConfig struct {
	APIURL         string
	PDFURL         string
	PageSize       int
	APIDelay       time.Duration
	DownloadDelay  time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: "*",
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Driver:  "sqlite",
		},
		Chunking: ChunkingConfig{
			ChunkSize:        400,
			Overlap:          50,
			MinChunkSize:     100,
			SentenceLookback: 50,
		},
		Ingestion: IngestionConfig{
			Threads:       "auto",
			QueueCapacity: 1000,
			SubmitTimeout: 30 * time.Second,
			Mode:          "sequential",
			StaleAfter:    time.Hour,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 2,
			QueueCapacity: 10,
			Retention:     24 * time.Hour,
		},
		Export: ExportConfig{
			Enabled:  true,
			Path:     "./chunk-exports",
			S3Prefix: "chunk-exports/",
			S3Region: "us-east-1",
		},
		Extract: ExtractConfig{
			Backend: "pdf",
		},
		Arxiv: ArxivConfig{
			APIURL:         "http://export.arxiv.org/api/query",
			PDFURL:         "https://arxiv.org/pdf/",
			PageSize:       2000,
			APIDelay:       3 * time.Second,
			DownloadDelay:  time.Second,
			ConnectTimeout: 30 * time.Second,
			ReadTimeout:    120 * time.Second,
			MaxRetries:     3,
		},
	}
}

// Load reads configuration from defaults, the YAML file at
// $XDG_CONFIG_HOME/paperdex/config.yaml, a .env file in the working
// directory, and environment variables, in increasing precedence.
//
// Environment variables (PAPERDEX_*) override file values.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env file: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(cfg.Storage.DataDir, "paperdex.log")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("missing required config: storage.postgres_url. " +
				"Set it via environment variable PAPERDEX_STORAGE_POSTGRES_URL")
		}
	default:
		return fmt.Errorf("invalid storage.driver %q: want sqlite or postgres", c.Storage.Driver)
	}
	switch c.Ingestion.Mode {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("invalid ingestion.mode %q: want sequential or parallel", c.Ingestion.Mode)
	}
	switch c.Extract.Backend {
	case "pdf", "pdftotext":
	default:
		return fmt.Errorf("invalid extract.backend %q: want pdf or pdftotext", c.Extract.Backend)
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size_tokens must be positive, got %d", c.Chunking.ChunkSize)
	}
	return nil
}

// Threads resolves ingestion.threads. "auto" means max(2, NumCPU-2); an
// explicit value below 2 is raised to 2.
func (c Config) Threads() int {
	return resolveThreads(c.Ingestion.Threads, runtime.NumCPU())
}

func resolveThreads(raw string, cpus int) int {
	auto := max(2, cpus-2)
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "auto") {
		return auto
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		fmt.Fprintf(os.Stderr, "[WARN] invalid ingestion.threads %q, using auto (%d).\n", raw, auto)
		return auto
	}
	return max(2, n)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "paperdex-data"
		}
	}
	return filepath.Join(dir, "paperdex")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "paperdex", "config.yaml")
}
