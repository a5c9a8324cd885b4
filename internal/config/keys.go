package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PAPERDEX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "PAPERDEX_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "server.cors_origins", typ: kString, env: "PAPERDEX_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "log.level", typ: kString, env: "PAPERDEX_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "PAPERDEX_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAPERDEX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.driver", typ: kString, env: "PAPERDEX_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.postgres_url", typ: kString, env: "PAPERDEX_STORAGE_POSTGRES_URL",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresURL },
	},
	{
		key: "chunking.chunk_size_tokens", typ: kInt, env: "PAPERDEX_CHUNK_SIZE_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Chunking.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.ChunkSize },
	},
	{
		key: "chunking.chunk_overlap_tokens", typ: kInt, env: "PAPERDEX_CHUNK_OVERLAP_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Overlap },
	},
	{
		key: "chunking.min_chunk_length_tokens", typ: kInt, env: "PAPERDEX_MIN_CHUNK_LENGTH_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Chunking.MinChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.MinChunkSize },
	},
	{
		key: "chunking.sentence_lookback_tokens", typ: kInt, env: "PAPERDEX_SENTENCE_LOOKBACK_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Chunking.SentenceLookback = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.SentenceLookback },
	},
	{
		key: "ingestion.threads", typ: kString, env: "PAPERDEX_INGESTION_THREADS",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.Threads = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingestion.Threads },
	},
	{
		key: "ingestion.queue_capacity", typ: kInt, env: "PAPERDEX_INGESTION_QUEUE_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.QueueCapacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingestion.QueueCapacity },
	},
	{
		key: "ingestion.submit_timeout", typ: kDuration, env: "PAPERDEX_INGESTION_SUBMIT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.SubmitTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingestion.SubmitTimeout },
	},
	{
		key: "ingestion.mode", typ: kString, env: "PAPERDEX_INGESTION_MODE",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingestion.Mode },
	},
	{
		key: "ingestion.stale_after", typ: kDuration, env: "PAPERDEX_INGESTION_STALE_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.StaleAfter = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingestion.StaleAfter },
	},
	{
		key: "jobs.max_concurrent", typ: kInt, env: "PAPERDEX_JOBS_MAX_CONCURRENT",
		apply:   func(cfg *Config, v any) { cfg.Jobs.MaxConcurrent = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.MaxConcurrent },
	},
	{
		key: "jobs.queue_capacity", typ: kInt, env: "PAPERDEX_JOBS_QUEUE_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Jobs.QueueCapacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.QueueCapacity },
	},
	{
		key: "jobs.retention", typ: kDuration, env: "PAPERDEX_JOBS_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Jobs.Retention = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.Retention },
	},
	{
		key: "export.enabled", typ: kBool, env: "PAPERDEX_EXPORT_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Export.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Export.Enabled },
	},
	{
		key: "export.path", typ: kString, env: "PAPERDEX_EXPORT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Export.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.Path },
	},
	{
		key: "export.s3_bucket", typ: kString, env: "PAPERDEX_EXPORT_S3_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Export.S3Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.S3Bucket },
	},
	{
		key: "export.s3_prefix", typ: kString, env: "PAPERDEX_EXPORT_S3_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Export.S3Prefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.S3Prefix },
	},
	{
		key: "export.s3_region", typ: kString, env: "PAPERDEX_EXPORT_S3_REGION",
		apply:   func(cfg *Config, v any) { cfg.Export.S3Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.S3Region },
	},
	{
		key: "extract.backend", typ: kString, env: "PAPERDEX_EXTRACT_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Extract.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.Backend },
	},
	{
		key: "arxiv.api_url", typ: kString, env: "PAPERDEX_ARXIV_API_URL",
		apply:   func(cfg *Config, v any) { cfg.Arxiv.APIURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Arxiv.APIURL },
	},
	{
		key: "arxiv.pdf_url", typ: kString, env: "PAPERDEX_ARXIV_PDF_URL",
		apply:   func(cfg *Config, v any) { cfg.Arxiv.PDFURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Arxiv.PDFURL },
	},
	{
		key: "arxiv.page_size", typ: kInt, env: "PAPERDEX_ARXIV_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Arxiv.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Arxiv.PageSize },
	},
	{
		key: "arxiv.api_delay", typ: kDuration, env: "PAPERDEX_ARXIV_API_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Arxiv.APIDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Arxiv.APIDelay },
	},
	{
		key: "arxiv.download_delay", typ: kDuration, env: "PAPERDEX_ARXIV_DOWNLOAD_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Arxiv.DownloadDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Arxiv.DownloadDelay },
	},
	{
		key: "arxiv.connect_timeout", typ: kDuration, env: "PAPERDEX_ARXIV_CONNECT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Arxiv.ConnectTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Arxiv.ConnectTimeout },
	},
	{
		key: "arxiv.read_timeout", typ: kDuration, env: "PAPERDEX_ARXIV_READ_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Arxiv.ReadTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Arxiv.ReadTimeout },
	},
	{
		key: "arxiv.max_retries", typ: kInt, env: "PAPERDEX_ARXIV_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Arxiv.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Arxiv.MaxRetries },
	},
}

// parseValue converts raw text to the Go type of a key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
