package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	path := writeTempConfig(t, "# empty\n")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Chunking.ChunkSize != 400 || cfg.Chunking.Overlap != 50 || cfg.Chunking.MinChunkSize != 100 {
		t.Errorf("Chunking = %+v, want 400/50/100", cfg.Chunking)
	}
	if cfg.Chunking.SentenceLookback != 50 {
		t.Errorf("Chunking.SentenceLookback = %d, want 50", cfg.Chunking.SentenceLookback)
	}
	if cfg.Ingestion.Threads != "auto" {
		t.Errorf("Ingestion.Threads = %q, want %q", cfg.Ingestion.Threads, "auto")
	}
	if cfg.Ingestion.Mode != "sequential" {
		t.Errorf("Ingestion.Mode = %q, want %q", cfg.Ingestion.Mode, "sequential")
	}
	if cfg.Ingestion.SubmitTimeout != 30*time.Second {
		t.Errorf("Ingestion.SubmitTimeout = %v, want 30s", cfg.Ingestion.SubmitTimeout)
	}
	if cfg.Ingestion.StaleAfter != time.Hour {
		t.Errorf("Ingestion.StaleAfter = %v, want 1h", cfg.Ingestion.StaleAfter)
	}
	if cfg.Jobs.Retention != 24*time.Hour {
		t.Errorf("Jobs.Retention = %v, want 24h", cfg.Jobs.Retention)
	}
	if !cfg.Export.Enabled {
		t.Error("Export.Enabled = false, want true")
	}
	if cfg.Arxiv.PageSize != 2000 {
		t.Errorf("Arxiv.PageSize = %d, want 2000", cfg.Arxiv.PageSize)
	}
	if cfg.Arxiv.MaxRetries != 3 {
		t.Errorf("Arxiv.MaxRetries = %d, want 3", cfg.Arxiv.MaxRetries)
	}
	if cfg.Arxiv.APIDelay != 3*time.Second {
		t.Errorf("Arxiv.APIDelay = %v, want 3s", cfg.Arxiv.APIDelay)
	}
	if cfg.Log.File != filepath.Join(cfg.Storage.DataDir, "paperdex.log") {
		t.Errorf("Log.File = %q, want it under data dir", cfg.Log.File)
	}
}

// TestYAMLParsing verifies that nested YAML sections map onto dotted keys.
func TestYAMLParsing(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9090
  cors_origins: "https://a.example, https://b.example"
storage:
  data_dir: /tmp/paperdex-test
chunking:
  chunk_size_tokens: 256
  sentence_lookback_tokens: 20
ingestion:
  threads: "6"
  mode: parallel
  submit_timeout: 5s
export:
  enabled: false
arxiv:
  api_delay: 500ms
  max_retries: 1
`)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigins != "https://a.example, https://b.example" {
		t.Errorf("Server.CORSOrigins = %q", cfg.Server.CORSOrigins)
	}
	if cfg.Storage.DataDir != "/tmp/paperdex-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Chunking.ChunkSize != 256 {
		t.Errorf("Chunking.ChunkSize = %d, want 256", cfg.Chunking.ChunkSize)
	}
	if cfg.Chunking.SentenceLookback != 20 {
		t.Errorf("Chunking.SentenceLookback = %d, want 20", cfg.Chunking.SentenceLookback)
	}
	if cfg.Ingestion.Threads != "6" {
		t.Errorf("Ingestion.Threads = %q", cfg.Ingestion.Threads)
	}
	if cfg.Ingestion.Mode != "parallel" {
		t.Errorf("Ingestion.Mode = %q", cfg.Ingestion.Mode)
	}
	if cfg.Ingestion.SubmitTimeout != 5*time.Second {
		t.Errorf("Ingestion.SubmitTimeout = %v", cfg.Ingestion.SubmitTimeout)
	}
	if cfg.Export.Enabled {
		t.Error("Export.Enabled = true, want false")
	}
	if cfg.Arxiv.APIDelay != 500*time.Millisecond {
		t.Errorf("Arxiv.APIDelay = %v", cfg.Arxiv.APIDelay)
	}
	if cfg.Arxiv.MaxRetries != 1 {
		t.Errorf("Arxiv.MaxRetries = %d", cfg.Arxiv.MaxRetries)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 9090\n")

	t.Setenv("PAPERDEX_SERVER_PORT", "7070")
	t.Setenv("PAPERDEX_API_TOKEN", "secret-token")
	t.Setenv("PAPERDEX_JOBS_RETENTION", "1h")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Server.APIToken != "secret-token" {
		t.Errorf("Server.APIToken = %q, want %q", cfg.Server.APIToken, "secret-token")
	}
	if cfg.Jobs.Retention != time.Hour {
		t.Errorf("Jobs.Retention = %v, want 1h", cfg.Jobs.Retention)
	}
}

// TestInvalidValuesKeepDefaults verifies unparsable values warn and fall back.
func TestInvalidValuesKeepDefaults(t *testing.T) {
	path := writeTempConfig(t, "arxiv:\n  api_delay: soon\n")
	t.Setenv("PAPERDEX_CHUNK_SIZE_TOKENS", "lots")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Arxiv.APIDelay != 3*time.Second {
		t.Errorf("Arxiv.APIDelay = %v, want default 3s", cfg.Arxiv.APIDelay)
	}
	if cfg.Chunking.ChunkSize != 400 {
		t.Errorf("Chunking.ChunkSize = %d, want default 400", cfg.Chunking.ChunkSize)
	}
}

func TestSecretsIgnoredInFile(t *testing.T) {
	path := writeTempConfig(t, "server:\n  api_token: from-file\n")
	t.Setenv("PAPERDEX_API_TOKEN", "")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("Server.APIToken = %q, want secrets to come from env only", cfg.Server.APIToken)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"bad driver", "storage:\n  driver: mysql\n", "storage.driver"},
		{"postgres without url", "storage:\n  driver: postgres\n", "storage.postgres_url"},
		{"bad mode", "ingestion:\n  mode: turbo\n", "ingestion.mode"},
		{"bad backend", "extract:\n  backend: ocr\n", "extract.backend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("PAPERDEX_STORAGE_POSTGRES_URL", "")
			_, err := loadFromPath(writeTempConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestResolveThreads(t *testing.T) {
	cases := []struct {
		raw  string
		cpus int
		want int
	}{
		{"auto", 8, 6},
		{"auto", 2, 2},
		{"", 16, 14},
		{"AUTO", 1, 2},
		{"4", 16, 4},
		{"1", 16, 2},
		{"zero", 8, 6},
		{"-3", 8, 6},
	}
	for _, tc := range cases {
		if got := resolveThreads(tc.raw, tc.cpus); got != tc.want {
			t.Errorf("resolveThreads(%q, %d) = %d, want %d", tc.raw, tc.cpus, got, tc.want)
		}
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paperdex", "config.yaml")
	b := newFileBackend(path)

	if err := setKey(b, "server.port", "9999"); err != nil {
		t.Fatalf("setKey(server.port): %v", err)
	}
	if err := setKey(b, "arxiv.api_delay", "10s"); err != nil {
		t.Fatalf("setKey(arxiv.api_delay): %v", err)
	}
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("setKey with non-integer succeeded")
	}
	if err := setKey(b, "jobs.retention", "forever"); err == nil {
		t.Error("setKey with invalid duration succeeded")
	}
	if err := setKey(b, "server.api_token", "x"); err == nil {
		t.Error("setKey on secret succeeded")
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("setKey on unknown key succeeded")
	}

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Arxiv.APIDelay != 10*time.Second {
		t.Errorf("Arxiv.APIDelay = %v, want 10s", cfg.Arxiv.APIDelay)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "server:") {
		t.Errorf("config file is not nested YAML:\n%s", raw)
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIToken = "hunter2"
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "server.api_token" && ki.Value != "********" {
			t.Errorf("api_token shown as %q", ki.Value)
		}
	}
	for _, k := range ValidKeys() {
		if k == "server.api_token" || k == "storage.postgres_url" {
			t.Errorf("ValidKeys includes secret %q", k)
		}
	}
}

func TestUnsetKeyRestoresDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	b := newFileBackend(path)
	if err := setKey(b, "server.port", "9999"); err != nil {
		t.Fatal(err)
	}
	if err := unsetKey(b, "server.port"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	if err := unsetKey(b, "server.api_token"); err == nil {
		t.Error("unsetKey on secret succeeded")
	}

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := defaults().Server.Port; cfg.Server.Port != want {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, want)
	}
}

func TestDescribeSources(t *testing.T) {
	t.Setenv("PAPERDEX_API_TOKEN", "hunter2")
	b := newFileBackend(filepath.Join(t.TempDir(), "config.yaml"))
	if err := setKey(b, "server.port", "9999"); err != nil {
		t.Fatal(err)
	}

	got := make(map[string]string)
	for _, ki := range describe(defaults(), b) {
		got[ki.Key] = ki.Source
	}
	want := map[string]string{
		"server.port":      "file",
		"server.api_token": "env",
		"arxiv.api_delay":  "default",
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("source of %s = %q, want %q", k, got[k], w)
		}
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("job progress", "job_id", "job_1")

	if !strings.Contains(stderr.String(), "job_id=job_1") {
		t.Errorf("stderr = %q, want text record", stderr.String())
	}
	if !strings.Contains(file.String(), `"job_id":"job_1"`) {
		t.Errorf("file = %q, want JSON record", file.String())
	}
	if strings.Contains(stderr.String(), "hidden") {
		t.Error("debug record written at info level")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn,
		"error": slog.LevelError, "bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
