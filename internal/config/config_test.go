package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"noema/internal/types"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default(t.TempDir())
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Analysis.StopThreshold != 0.95 || cfg.Analysis.AcceptableThreshold != 0.90 {
		t.Errorf("thresholds = %+v", cfg.Analysis)
	}
	if cfg.Analysis.MaxPasses != 5 {
		t.Errorf("max passes = %d", cfg.Analysis.MaxPasses)
	}
	if cfg.Analysis.Deadline != 60*time.Second {
		t.Errorf("deadline = %v", cfg.Analysis.Deadline)
	}
	if cfg.Stakes.AmountThreshold != 10000 || cfg.Stakes.DeadlineWindow != 48*time.Hour {
		t.Errorf("stakes = %+v", cfg.Stakes)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Analysis.MaxPasses != 5 {
		t.Errorf("defaults not applied: %+v", cfg.Analysis)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "analysis:\n  max_passes: 3\nllm:\n  baseline:\n    model: test-model\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Analysis.MaxPasses != 3 {
		t.Errorf("max_passes = %d, want override", cfg.Analysis.MaxPasses)
	}
	if cfg.Analysis.StopThreshold != 0.95 {
		t.Errorf("stop threshold lost its default: %v", cfg.Analysis.StopThreshold)
	}
	if cfg.LLM.Baseline.Model != "test-model" {
		t.Errorf("baseline model = %q", cfg.LLM.Baseline.Model)
	}
	if cfg.LLM.Mid.Model == "" {
		t.Error("mid tier default lost")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NOEMA_API_KEY", "sk-test")
	t.Setenv("NOEMA_STORE_PATH", "/tmp/elsewhere.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.StorePath != "/tmp/elsewhere.db" {
		t.Errorf("store path = %q", cfg.StorePath)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Analysis.AcceptableThreshold = 0.99
	if err := cfg.Validate(); err == nil {
		t.Error("acceptable above stop threshold accepted")
	}

	cfg = Default(t.TempDir())
	cfg.Analysis.MaxPasses = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero max passes accepted")
	}
}

func TestForTier(t *testing.T) {
	llm := DefaultLLMConfig()
	if llm.ForTier(types.TierBaseline).Model != llm.Baseline.Model {
		t.Error("baseline lookup wrong")
	}
	if llm.ForTier(types.TierTop).Model != llm.Top.Model {
		t.Error("top lookup wrong")
	}
	if llm.Baseline.Timeout >= llm.Top.Timeout {
		t.Errorf("tier timeouts not increasing: %v >= %v", llm.Baseline.Timeout, llm.Top.Timeout)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Default(dir)
	cfg.Analysis.MaxPasses = 4
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Analysis.MaxPasses != 4 {
		t.Errorf("round trip lost max_passes: %d", loaded.Analysis.MaxPasses)
	}
}
