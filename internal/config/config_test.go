package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "@channel")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadArgs(nil)
	if err != nil {
		t.Fatalf("LoadArgs: %v", err)
	}
	if cfg.CheckInterval != 600*time.Second {
		t.Errorf("CheckInterval = %v", cfg.CheckInterval)
	}
	if cfg.MaxNewsPerSource != 3 {
		t.Errorf("MaxNewsPerSource = %d", cfg.MaxNewsPerSource)
	}
	if !cfg.RenderHeadless || cfg.RenderTimeout != 30*time.Second {
		t.Errorf("render settings = %v %v", cfg.RenderHeadless, cfg.RenderTimeout)
	}
	if cfg.DedupBackend != "file" || cfg.DuplicatesFile != "duplicates.txt" {
		t.Errorf("dedup settings = %s %s", cfg.DedupBackend, cfg.DuplicatesFile)
	}
	if cfg.PublishDelay != 3*time.Second || cfg.PublishFailureDelay != 5*time.Second {
		t.Errorf("publish delays = %v %v", cfg.PublishDelay, cfg.PublishFailureDelay)
	}
	if cfg.FetchConcurrency != 8 || cfg.FetchAttempts != 3 {
		t.Errorf("fetch settings = %d %d", cfg.FetchConcurrency, cfg.FetchAttempts)
	}
	if cfg.Destination() != "@channel" {
		t.Errorf("Destination = %s", cfg.Destination())
	}
}

func TestLoadFromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("CHECK_INTERVAL", "60")
	t.Setenv("RENDER_HEADLESS", "false")
	t.Setenv("PREVIEW_CHANNEL_ID", "@preview")
	t.Setenv("STATIC_PROXY", " 10.0.0.1:3128 ")

	cfg, err := LoadArgs(nil)
	if err != nil {
		t.Fatalf("LoadArgs: %v", err)
	}
	if cfg.CheckInterval != time.Minute {
		t.Errorf("CheckInterval = %v", cfg.CheckInterval)
	}
	if cfg.RenderHeadless {
		t.Error("RenderHeadless should be false")
	}
	if cfg.Destination() != "@preview" {
		t.Errorf("Destination = %s", cfg.Destination())
	}
	if cfg.StaticProxy != "10.0.0.1:3128" {
		t.Errorf("StaticProxy = %q", cfg.StaticProxy)
	}
}

func TestLoadLegacyNames(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	t.Setenv("BOT_TOKEN", "legacy-token")
	t.Setenv("CHANNEL_ID", "@legacy")

	cfg, err := LoadArgs(nil)
	if err != nil {
		t.Fatalf("LoadArgs: %v", err)
	}
	if cfg.TelegramToken != "legacy-token" || cfg.TelegramChatID != "@legacy" {
		t.Fatalf("got %q %q", cfg.TelegramToken, cfg.TelegramChatID)
	}
}

func TestLoadMissingToken(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "@channel")

	if _, err := LoadArgs(nil); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestValidateBackends(t *testing.T) {
	setRequired(t)
	cfg, err := LoadArgs([]string{"--dedup-backend", "postgres"})
	if err == nil {
		t.Fatalf("postgres without DATABASE_URL should fail, got %+v", cfg)
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/metalnews")
	if _, err := LoadArgs([]string{"--dedup-backend", "postgres"}); err != nil {
		t.Fatalf("LoadArgs: %v", err)
	}
}

func TestValidateCronSchedule(t *testing.T) {
	setRequired(t)
	t.Setenv("CYCLE_SCHEDULE", "not a schedule")
	if _, err := LoadArgs(nil); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
	t.Setenv("CYCLE_SCHEDULE", "*/10 * * * *")
	if _, err := LoadArgs(nil); err != nil {
		t.Fatalf("LoadArgs: %v", err)
	}
}

func TestParseSources(t *testing.T) {
	data := []byte(`
sources:
  - name: Mining.com
    url: https://www.mining.com/feed/
  - name: Press
    kind: html
    url: https://example.com/press
    always_include: true
    requires_rendering: true
    render_wait: 2s
    max_items: 5
    selectors:
      container: .news-item
      title: h3
`)
	sources, err := ParseSources(data)
	if err != nil {
		t.Fatalf("ParseSources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("got %d sources", len(sources))
	}
	if sources[0].Kind != KindFeed || sources[0].Cap(3) != 3 || sources[0].Settle() != time.Second {
		t.Errorf("first source = %+v", sources[0])
	}
	p := sources[1]
	if p.Kind != KindPage || !p.AlwaysInclude || !p.RequiresRendering {
		t.Errorf("second source = %+v", p)
	}
	if p.Settle() != 2*time.Second || p.Cap(3) != 5 || p.Selectors.Container != ".news-item" {
		t.Errorf("second source = %+v", p)
	}
}

func TestParseSourcesRejectsInvalid(t *testing.T) {
	cases := []string{
		"sources:\n  - name: x\n    url: /relative\n",
		"sources:\n  - url: https://example.com\n",
		"sources:\n  - name: x\n    kind: ftp\n    url: https://example.com\n",
		"sources:\n  - name: x\n    url: https://a.com\n  - name: x\n    url: https://b.com\n",
	}
	for _, c := range cases {
		if _, err := ParseSources([]byte(c)); !errors.Is(err, ErrInvalidSource) {
			t.Errorf("expected ErrInvalidSource for %q, got %v", c, err)
		}
	}
}

func TestLoadKeywords(t *testing.T) {
	kw, err := LoadKeywords(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadKeywords: %v", err)
	}
	if len(kw.Include) == 0 || len(kw.Exclude) == 0 || len(kw.CategoryPrefixes) == 0 {
		t.Fatalf("defaults not applied: %+v", kw)
	}

	path := filepath.Join(t.TempDir(), "keywords.yaml")
	if err := os.WriteFile(path, []byte("include: [copper]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	kw, err = LoadKeywords(path)
	if err != nil {
		t.Fatalf("LoadKeywords: %v", err)
	}
	if len(kw.Include) != 1 || kw.Include[0] != "copper" {
		t.Errorf("Include = %v", kw.Include)
	}
	if len(kw.Exclude) == 0 {
		t.Error("Exclude should fall back to defaults")
	}
}

func TestShippedConfigFilesParse(t *testing.T) {
	sources, err := LoadSources("../../configs/sources.yaml")
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(sources) != 14 || sources[0].Name != "Metalinfo.ru" {
		t.Fatalf("sources = %d, first %q", len(sources), sources[0].Name)
	}
	kw, err := LoadKeywords("../../configs/keywords.yaml")
	if err != nil {
		t.Fatalf("LoadKeywords: %v", err)
	}
	if len(kw.Include) == 0 || len(kw.Exclude) == 0 || len(kw.CategoryPrefixes) == 0 {
		t.Fatalf("keywords = %+v", kw)
	}
}
