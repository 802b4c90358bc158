package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load(writeConfig(t, "app:\n  debug: false\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Extraction.MinChars != 400 || cfg.Extraction.MinWords != 60 {
		t.Errorf("extraction = %+v", cfg.Extraction)
	}
	if cfg.Prefs.MinAttempts != 3 || cfg.Prefs.CooldownHours != 24 || cfg.Prefs.PromoteMargin != 0.15 {
		t.Errorf("prefs = %+v", cfg.Prefs)
	}
	if cfg.Keywords.MinScore != 2.5 {
		t.Errorf("keywords.min_score = %v", cfg.Keywords.MinScore)
	}
	if cfg.Filters.MaxAgeDays != 7 {
		t.Errorf("filters.max_age_days = %d", cfg.Filters.MaxAgeDays)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Output.Directory != "output" {
		t.Errorf("storage/output = %q / %q", cfg.Storage.Backend, cfg.Output.Directory)
	}
	if cfg.Server.Addr() != "localhost:8080" {
		t.Errorf("server addr = %q", cfg.Server.Addr())
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := writeConfig(t, `
extraction:
  min_chars: 800
digest:
  per_domain_cap: 2
llm:
  mode: off
  backend: anthropic
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Extraction.MinChars != 800 || cfg.Extraction.MinWords != 60 {
		t.Errorf("extraction = %+v", cfg.Extraction)
	}
	if cfg.Digest.PerDomainCap != 2 {
		t.Errorf("per_domain_cap = %d", cfg.Digest.PerDomainCap)
	}
	if cfg.LLM.Backend != "anthropic" {
		t.Errorf("llm.backend = %q", cfg.LLM.Backend)
	}
}

func TestLoad_EnvironmentAliases(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("LLOYDS_DIGEST_LLM_MODE", "relevance")
	t.Setenv("LLOYDS_DIGEST_LLM_SUMMARIZE_MODEL", "llama3")
	t.Setenv("LLOYDS_DIGEST_KEYWORDS_MIN_SCORE", "4")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_USER", "digest")
	t.Setenv("REDIS_ADDRESS", "cache:6380")

	cfg, err := Load(writeConfig(t, "app:\n  debug: true\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Mode != "relevance" || cfg.LLM.SummariseModel != "llama3" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Keywords.MinScore != 4 {
		t.Errorf("keywords.min_score = %v", cfg.Keywords.MinScore)
	}
	if cfg.Redis.Address != "cache:6380" {
		t.Errorf("redis.address = %q", cfg.Redis.Address)
	}

	host, ok := cfg.Storage.Postgres.Lookup("POSTGRES_HOST")
	if !ok || host != "db.internal" {
		t.Errorf("Lookup(POSTGRES_HOST) = %q, %v", host, ok)
	}
	if _, ok := cfg.Storage.Postgres.Lookup("POSTGRES_PASSWORD"); ok {
		t.Error("empty password should not resolve")
	}
	if !cfg.App.Debug {
		t.Error("expected debug from file")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"storage backend", "storage:\n  backend: mongo\n"},
		{"llm backend", "llm:\n  backend: gpt\n"},
		{"cache backend", "cache:\n  backend: disk\n"},
		{"thresholds", "extraction:\n  min_chars: 0\n"},
		{"similarity", "digest:\n  similarity_threshold: 1.5\n"},
		{"duration", "fetch:\n  timeout: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Reset()
			t.Cleanup(Reset)

			_, err := Load(writeConfig(t, tt.body))
			if !errors.Is(err, ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoad_Cached(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first, err := Load(writeConfig(t, "digest:\n  max_items: 10\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, _ := Load("ignored.yaml")
	if first != second || Get() != first {
		t.Error("expected the global configuration to be reused")
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("90s", time.Second); got != 90*time.Second {
		t.Errorf("Duration = %v", got)
	}
	if got := Duration("", 5*time.Second); got != 5*time.Second {
		t.Errorf("fallback = %v", got)
	}
	if got := Duration("-1s", 5*time.Second); got != 5*time.Second {
		t.Errorf("negative fallback = %v", got)
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("DIGEST_ROOT", "/srv/digest")
	if got := expandPath("$DIGEST_ROOT/out"); got != "/srv/digest/out" {
		t.Errorf("expandPath = %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		if got := expandPath("~/data"); got != filepath.Join(home, "data") {
			t.Errorf("expandPath(~) = %q", got)
		}
	}
}
