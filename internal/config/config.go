package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models hourline.yml.
type Config struct {
	Platform struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"platform"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		DevLogin  bool   `yaml:"dev_login"`
	} `yaml:"auth"`
	Packages struct {
		Catalog map[string]PackageTierConfig `yaml:"catalog"`
	} `yaml:"packages"`
	Billing struct {
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"billing"`
}

type PackageTierConfig struct {
	Name        string  `yaml:"name"`
	Hours       float64 `yaml:"hours"`
	CostPerHour float64 `yaml:"cost_per_hour"`
	Discount    float64 `yaml:"discount"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run hl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return fmt.Errorf("config.platform.id is required")
	}
	for id, tier := range c.Packages.Catalog {
		if id == "" {
			return fmt.Errorf("config.packages.catalog contains empty tier id")
		}
		if tier.Hours < 0 {
			return fmt.Errorf("tier %s has negative hours", id)
		}
		if tier.CostPerHour < 0 {
			return fmt.Errorf("tier %s has negative cost_per_hour", id)
		}
		if tier.Discount < 0 || tier.Discount > 1 {
			return fmt.Errorf("tier %s discount must be within [0,1]", id)
		}
	}
	for i, hook := range c.Billing.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("billing.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("billing.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hourline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(platformID string) string {
	return fmt.Sprintf(defaultTemplate, platformID)
}

// Default returns the default Config struct for a platform.
func Default(platformID string) *Config {
	var cfg Config
	cfg.Platform.ID = platformID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, platformID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `platform:
  id: %s
  name: Hourline

auth:
  jwt_secret: ""
  dev_login: false

packages:
  catalog:
    inicial:
      name: "Paquete Inicial"
      hours: 10
      cost_per_hour: 30
      discount: 0
    profesional:
      name: "Paquete Profesional"
      hours: 40
      cost_per_hour: 27
      discount: 0.05
    corporativo:
      name: "Paquete Corporativo"
      hours: 120
      cost_per_hour: 25
      discount: 0.12

billing: {}
`
