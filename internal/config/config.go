package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models craftline.yml.
type Config struct {
	Codes struct {
		Prefix   string `yaml:"prefix"`
		PadWidth int    `yaml:"pad_width"`
	} `yaml:"codes"`
	BOM struct {
		MaxDepth int `yaml:"max_depth"`
	} `yaml:"bom"`
	Steps struct {
		// Which step from the end records the in-process quantity.
		// 2 means the second-to-last step.
		ProcessOffsetFromEnd int `yaml:"process_offset_from_end"`
	} `yaml:"steps"`
	Scheduling struct {
		ReserveInputs bool `yaml:"reserve_inputs"`
		StartHour     int  `yaml:"start_hour"`
	} `yaml:"scheduling"`
	Suggestions struct {
		SafetyStockPercent int  `yaml:"safety_stock_percent"`
		HistoricalDays     int  `yaml:"historical_days"`
		SameWeekdayOnly    bool `yaml:"same_weekday_only"`
	} `yaml:"suggestions"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with craft config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Codes.Prefix == "" {
		return fmt.Errorf("config.codes.prefix is required")
	}
	if c.Codes.PadWidth < 1 || c.Codes.PadWidth > 10 {
		return fmt.Errorf("config.codes.pad_width must be between 1 and 10")
	}
	if c.BOM.MaxDepth < 1 {
		return fmt.Errorf("config.bom.max_depth must be at least 1")
	}
	if c.Steps.ProcessOffsetFromEnd < 1 {
		return fmt.Errorf("config.steps.process_offset_from_end must be at least 1")
	}
	if c.Scheduling.StartHour < 0 || c.Scheduling.StartHour > 23 {
		return fmt.Errorf("config.scheduling.start_hour must be between 0 and 23")
	}
	if c.Suggestions.SafetyStockPercent < 0 {
		return fmt.Errorf("config.suggestions.safety_stock_percent must not be negative")
	}
	if c.Suggestions.HistoricalDays < 1 {
		return fmt.Errorf("config.suggestions.historical_days must be at least 1")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "craftline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `codes:
  prefix: WO
  pad_width: 5

bom:
  max_depth: 5

steps:
  process_offset_from_end: 2

scheduling:
  reserve_inputs: false
  start_hour: 6

suggestions:
  safety_stock_percent: 10
  historical_days: 28
  same_weekday_only: true

webhooks: []
`
