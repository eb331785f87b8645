package store

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"formula-signal-engine/internal/metrics"
	"formula-signal-engine/internal/types"
)

type Config struct {
	Engine struct {
		WindowSize    int    `yaml:"window_size"`
		RelativeRefs  bool   `yaml:"relative_refs"`
		DefaultSignal string `yaml:"default_signal"`
	} `yaml:"engine"`
	Metrics struct {
		Fallbacks []metrics.FallbackRule `yaml:"fallbacks"`
	} `yaml:"metrics"`
	Dataset struct {
		Source string `yaml:"source"` // JSON or HTML
		Dir    string `yaml:"dir"`
	} `yaml:"dataset"`
	Batch struct {
		Workers            int `yaml:"workers"`
		ItemTimeoutSeconds int `yaml:"item_timeout_seconds"`
	} `yaml:"batch"`
	Logging struct {
		TracingEnabled *bool `yaml:"tracing_enabled"`
	} `yaml:"logging"`
	Formulas []struct {
		Expression string `yaml:"expression"`
		Signal     string `yaml:"signal"`
		Priority   int    `yaml:"priority"`
		Scope      string `yaml:"scope"`
	} `yaml:"formulas"`
}

func (c *Config) Validate() error {
	if c.Engine.WindowSize < 1 {
		return fmt.Errorf("engine.window_size must be at least 1, got %d", c.Engine.WindowSize)
	}
	if c.Dataset.Source != "JSON" && c.Dataset.Source != "HTML" {
		return fmt.Errorf("invalid dataset.source '%s': must be 'JSON' or 'HTML'", c.Dataset.Source)
	}
	if c.Dataset.Dir == "" {
		return fmt.Errorf("dataset.dir cannot be empty")
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers)
	}
	for i, f := range c.Formulas {
		if f.Expression == "" {
			return fmt.Errorf("formulas[%d].expression cannot be empty", i)
		}
	}
	return nil
}

// TracingEnabled resolves the tracing switch: an explicit config value
// wins, otherwise the LOG_TRACING_ENABLED environment default (on).
func (c *Config) TracingEnabled() bool {
	if c.Logging.TracingEnabled != nil {
		return *c.Logging.TracingEnabled
	}
	v := os.Getenv("LOG_TRACING_ENABLED")
	return v == "" || v == "true"
}

// FormulaList converts the configured formulas to engine inputs.
func (c *Config) FormulaList() []types.Formula {
	out := make([]types.Formula, len(c.Formulas))
	for i, f := range c.Formulas {
		signal := f.Signal
		if signal == "" {
			signal = c.Engine.DefaultSignal
		}
		out[i] = types.Formula{
			Expression: f.Expression,
			Signal:     signal,
			Priority:   f.Priority,
			Scope:      f.Scope,
		}
	}
	return out
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Engine.WindowSize == 0 {
		c.Engine.WindowSize = 12
	}
	if c.Dataset.Source == "" {
		c.Dataset.Source = "JSON"
	}
	if c.Dataset.Dir == "" {
		c.Dataset.Dir = "data"
	}
	if c.Batch.Workers == 0 {
		c.Batch.Workers = 4
	}
	if c.Batch.ItemTimeoutSeconds == 0 {
		c.Batch.ItemTimeoutSeconds = 10
	}

	// Environment overrides for the knobs tuned most often
	if v := os.Getenv("ENGINE_WINDOW_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.WindowSize = n
		}
	}
	if v := os.Getenv("BATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Batch.Workers = n
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
