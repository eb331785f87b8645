package store

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
formulas:
  - expression: '=1'
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Engine.WindowSize != 12 {
		t.Errorf("Expected default window size 12, got %d", cfg.Engine.WindowSize)
	}
	if cfg.Dataset.Source != "JSON" || cfg.Dataset.Dir != "data" {
		t.Errorf("Unexpected dataset defaults: %+v", cfg.Dataset)
	}
	if cfg.Batch.Workers != 4 || cfg.Batch.ItemTimeoutSeconds != 10 {
		t.Errorf("Unexpected batch defaults: %+v", cfg.Batch)
	}
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfig(t, `
engine:
  window_size: 8
  relative_refs: true
  default_signal: BUY
metrics:
  fallbacks:
    - name: custom
      triggers: [roe]
      aliases: ["Return on Equity %"]
dataset:
  source: HTML
  dir: pages
batch:
  workers: 2
  item_timeout_seconds: 3
formulas:
  - expression: '=AND(Sales[Q8]>Sales[Q7])'
  - expression: '=AND(Sales[Q8]<Sales[Q7])'
    signal: SELL
    priority: 2
    scope: "HDFCBANK"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Engine.WindowSize != 8 || !cfg.Engine.RelativeRefs {
		t.Errorf("Unexpected engine config: %+v", cfg.Engine)
	}
	if len(cfg.Metrics.Fallbacks) != 1 || cfg.Metrics.Fallbacks[0].Name != "custom" {
		t.Errorf("Unexpected fallbacks: %+v", cfg.Metrics.Fallbacks)
	}

	formulas := cfg.FormulaList()
	if len(formulas) != 2 {
		t.Fatalf("Expected 2 formulas, got %d", len(formulas))
	}
	// Empty signal falls back to the engine default.
	if formulas[0].Signal != "BUY" {
		t.Errorf("Expected default signal BUY, got %q", formulas[0].Signal)
	}
	if formulas[1].Signal != "SELL" || formulas[1].Priority != 2 || formulas[1].Scope != "HDFCBANK" {
		t.Errorf("Unexpected formula: %+v", formulas[1])
	}
}

func TestTracingEnabledSwitch(t *testing.T) {
	t.Setenv("LOG_TRACING_ENABLED", "")

	path := writeConfig(t, "formulas:\n  - expression: '=1'\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.TracingEnabled() {
		t.Error("Expected tracing on by default")
	}

	t.Setenv("LOG_TRACING_ENABLED", "false")
	if cfg.TracingEnabled() {
		t.Error("Expected env to disable tracing when config is silent")
	}

	path = writeConfig(t, "logging:\n  tracing_enabled: false\nformulas:\n  - expression: '=1'\n")
	t.Setenv("LOG_TRACING_ENABLED", "true")
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TracingEnabled() {
		t.Error("Expected explicit config value to win over env")
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []string{
		"engine:\n  window_size: -1\nformulas:\n  - expression: '=1'\n",
		"dataset:\n  source: CSV\nformulas:\n  - expression: '=1'\n",
		"formulas:\n  - expression: ''\n",
	}
	for _, body := range cases {
		path := writeConfig(t, body)
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("Expected validation error for:\n%s", body)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
