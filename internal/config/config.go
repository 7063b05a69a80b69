// Package config provides configuration loading for splitpage.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SP_"

type Config struct {
	Server      ServerConfig       `koanf:"server"`
	DB          DBConfig           `koanf:"db"`
	Storage     StorageConfig      `koanf:"storage"`
	Reporting   ReportingConfig    `koanf:"reporting"`
	Experiments []ExperimentConfig `koanf:"experiments"`
	Conversions []ConversionRoute  `koanf:"conversions"`
}

type ServerConfig struct {
	Port      int    `koanf:"port"`
	TokenFile string `koanf:"token_file"`
}

type DBConfig struct {
	Path string `koanf:"path"`
}

type StorageConfig struct {
	// Prefix namespaces persisted assignment keys so they never collide
	// with unrelated keys sharing the same storage scope.
	Prefix string `koanf:"prefix"`
}

type ReportingConfig struct {
	// Enabled is the global switch: when off, assignment and application
	// still run but no impression or conversion is emitted anywhere.
	Enabled    bool   `koanf:"enabled"`
	LogEvents  bool   `koanf:"log_events"`
	WebhookURL string `koanf:"webhook_url"`
}

// ExperimentConfig is one test definition: a unique name, an ordered
// non-empty set of allowed variant labels, and the page mutation applied
// for whichever variant resolves. Adding a test is a pure config change.
type ExperimentConfig struct {
	Name     string          `koanf:"name"`
	Variants []string        `koanf:"variants"`
	Mutation *MutationConfig `koanf:"mutation"`
}

type MutationConfig struct {
	Kind     string            `koanf:"kind"` // text | class | attr | style
	Slot     string            `koanf:"slot"`
	Attr     string            `koanf:"attr"`     // attr kind only
	Property string            `koanf:"property"` // style kind only
	Values   map[string]string `koanf:"values"`   // variant label -> value
}

// ConversionRoute maps an instrumented control identifier to the
// (experiment, conversion kind) pair its activation converts.
type ConversionRoute struct {
	Control string `koanf:"control"`
	Test    string `koanf:"test"`
	Kind    string `koanf:"kind"`
}

// Default returns the built-in configuration: the landing page's three
// experiments and its two conversion routes.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8080, TokenFile: ".splitpage-token"},
		DB:      DBConfig{Path: "./splitpage.db"},
		Storage: StorageConfig{Prefix: "ab_"},
		Reporting: ReportingConfig{
			Enabled:   true,
			LogEvents: true,
		},
		Experiments: []ExperimentConfig{
			{
				Name:     "hero_headline",
				Variants: []string{"A", "B"},
				Mutation: &MutationConfig{
					Kind: "text",
					Slot: "hero-headline",
					Values: map[string]string{
						"A": "Grow your pipeline on autopilot",
						"B": "Stop losing leads to slow follow-up",
					},
				},
			},
			{
				Name:     "cta_button_color",
				Variants: []string{"blue", "yellow"},
				Mutation: &MutationConfig{
					Kind: "class",
					Slot: "cta",
					Values: map[string]string{
						"blue":   "cta--blue",
						"yellow": "cta--yellow",
					},
				},
			},
			{
				Name:     "why_now_text",
				Variants: []string{"A", "B"},
				Mutation: &MutationConfig{
					Kind: "text",
					Slot: "why-now",
					Values: map[string]string{
						"A": "Your competitors already answer in minutes.",
						"B": "Every hour of delay costs you 7% of conversions.",
					},
				},
			},
		},
		Conversions: []ConversionRoute{
			{Control: "cta-click", Test: "cta_button_color", Kind: "click"},
			{Control: "lead-form-submit", Test: "hero_headline", Kind: "lead"},
		},
	}
}

// Load reads configuration with precedence env > YAML file > defaults.
// A missing file is not an error; the defaults simply apply.
//
// Environment variables use the SP_ prefix with underscore paths:
//
//	SP_SERVER_PORT          -> server.port
//	SP_REPORTING_WEBHOOK_URL -> reporting.webhook_url
//	SP_STORAGE_PREFIX       -> storage.prefix
func Load(configPath string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// SP_SERVER_PORT -> server.port, SP_REPORTING_WEBHOOK_URL ->
		// reporting.webhook_url (only the first underscore is a separator)
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.Replace(s, "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, exp := range c.Experiments {
		if exp.Name == "" {
			return fmt.Errorf("experiment with empty name")
		}
		if seen[exp.Name] {
			return fmt.Errorf("duplicate experiment name %q", exp.Name)
		}
		seen[exp.Name] = true

		if len(exp.Variants) == 0 {
			return fmt.Errorf("experiment %q has no variants", exp.Name)
		}
		variants := make(map[string]bool)
		for _, v := range exp.Variants {
			if v == "" {
				return fmt.Errorf("experiment %q has an empty variant label", exp.Name)
			}
			if variants[v] {
				return fmt.Errorf("experiment %q has duplicate variant %q", exp.Name, v)
			}
			variants[v] = true
		}

		if exp.Mutation != nil {
			if err := exp.Mutation.validate(exp.Name); err != nil {
				return err
			}
		}
	}

	routed := make(map[string]bool)
	for _, route := range c.Conversions {
		if route.Control == "" || route.Test == "" || route.Kind == "" {
			return fmt.Errorf("conversion route needs control, test and kind: %+v", route)
		}
		if routed[route.Control] {
			return fmt.Errorf("duplicate conversion control %q", route.Control)
		}
		routed[route.Control] = true
		if !seen[route.Test] {
			return fmt.Errorf("conversion control %q routes to unknown experiment %q", route.Control, route.Test)
		}
	}

	return nil
}

func (m *MutationConfig) validate(expName string) error {
	if m.Slot == "" {
		return fmt.Errorf("experiment %q mutation has no slot", expName)
	}
	switch m.Kind {
	case "text", "class":
	case "attr":
		if m.Attr == "" {
			return fmt.Errorf("experiment %q attr mutation has no attr name", expName)
		}
	case "style":
		if m.Property == "" {
			return fmt.Errorf("experiment %q style mutation has no property", expName)
		}
	default:
		return fmt.Errorf("experiment %q has unknown mutation kind %q", expName, m.Kind)
	}
	if len(m.Values) == 0 {
		return fmt.Errorf("experiment %q mutation has no values", expName)
	}
	return nil
}
