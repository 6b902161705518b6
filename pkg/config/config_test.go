package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %s", cfg.LLM.Provider)
	}
	if cfg.Offload.Ratio != 0.75 {
		t.Errorf("expected default offload ratio 0.75, got %v", cfg.Offload.Ratio)
	}
	if cfg.Offload.KeepRecent != 10 {
		t.Errorf("expected default keep_recent 10, got %d", cfg.Offload.KeepRecent)
	}
	if cfg.Store.Provider != "inmemory" {
		t.Errorf("expected default store inmemory, got %s", cfg.Store.Provider)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	os.Setenv("LOOM_LLM_PROVIDER", "mock")
	defer os.Unsetenv("LOOM_LLM_PROVIDER")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Errorf("expected provider mock from env, got %s", cfg.LLM.Provider)
	}
}

func TestLoadFileAndProfile(t *testing.T) {
	tmpDir := t.TempDir()
	basePath := filepath.Join(tmpDir, "config.yaml")
	base := `
llm:
  model: "llama3.1"
cache:
  dir: "/tmp/loom-cache"
  ttl: 1h
offload:
  token_budget: 4000
`
	if err := os.WriteFile(basePath, []byte(base), 0o644); err != nil {
		t.Fatal(err)
	}
	dev := `
llm:
  provider: "mock"
log:
  level: "debug"
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.dev.yaml"), []byte(dev), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(basePath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "llama3.1" || cfg.Offload.TokenBudget != 4000 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("duration parse failed: %v", cfg.Cache.TTL)
	}

	devCfg, err := LoadWithProfile(basePath, "dev")
	if err != nil {
		t.Fatal(err)
	}
	if devCfg.LLM.Provider != "mock" || devCfg.Log.Level != "debug" {
		t.Errorf("profile overlay not applied: %+v", devCfg)
	}
	if devCfg.LLM.Model != "llama3.1" {
		t.Errorf("profile must inherit base values, got %s", devCfg.LLM.Model)
	}

	// Missing profile falls back to the base file.
	prodCfg, err := LoadWithProfile(basePath, "prod")
	if err != nil {
		t.Fatal(err)
	}
	if prodCfg.LLM.Provider != "ollama" {
		t.Errorf("missing profile should keep base, got %s", prodCfg.LLM.Provider)
	}
}

func TestWatcherReloads(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, "", WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) { changed <- cfg })
	w.Start(t.Context())
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	// Bump mtime forward explicitly so coarse filesystem clocks cannot hide
	// the rewrite.
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Log.Level != "debug" {
			t.Errorf("reload delivered stale config: %s", cfg.Log.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not observe the change")
	}
}
