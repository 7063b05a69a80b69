package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/splitpage/splitpage/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ab_", cfg.Storage.Prefix)
	assert.True(t, cfg.Reporting.Enabled)
	assert.Len(t, cfg.Experiments, 3)
	assert.Len(t, cfg.Conversions, 2)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splitpage.yaml")
	content := `
server:
  port: 9090
storage:
  prefix: exp_
reporting:
  enabled: false
experiments:
  - name: pricing_cta
    variants: ["Start free", "Book a demo"]
    mutation:
      kind: text
      slot: pricing-cta
      values:
        "Start free": "Start free"
        "Book a demo": "Book a demo"
conversions:
  - control: pricing-click
    test: pricing_cta
    kind: click
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "exp_", cfg.Storage.Prefix)
	assert.False(t, cfg.Reporting.Enabled)
	require.Len(t, cfg.Experiments, 1)
	assert.Equal(t, "pricing_cta", cfg.Experiments[0].Name)
	assert.Equal(t, []string{"Start free", "Book a demo"}, cfg.Experiments[0].Variants)
	require.NotNil(t, cfg.Experiments[0].Mutation)
	assert.Equal(t, "text", cfg.Experiments[0].Mutation.Kind)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splitpage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0600))

	t.Setenv("SP_SERVER_PORT", "7070")
	t.Setenv("SP_REPORTING_WEBHOOK_URL", "https://analytics.example.com/hook")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "https://analytics.example.com/hook", cfg.Reporting.WebhookURL)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"duplicate experiment name", func(c *config.Config) {
			c.Experiments = append(c.Experiments, config.ExperimentConfig{
				Name: c.Experiments[0].Name, Variants: []string{"A", "B"},
			})
		}},
		{"empty experiment name", func(c *config.Config) {
			c.Experiments[0].Name = ""
		}},
		{"no variants", func(c *config.Config) {
			c.Experiments[0].Variants = nil
		}},
		{"duplicate variant label", func(c *config.Config) {
			c.Experiments[0].Variants = []string{"A", "A"}
		}},
		{"empty variant label", func(c *config.Config) {
			c.Experiments[0].Variants = []string{"A", ""}
		}},
		{"unknown mutation kind", func(c *config.Config) {
			c.Experiments[0].Mutation.Kind = "teleport"
		}},
		{"attr mutation without attr", func(c *config.Config) {
			c.Experiments[0].Mutation = &config.MutationConfig{
				Kind: "attr", Slot: "cta", Values: map[string]string{"A": "x"},
			}
		}},
		{"style mutation without property", func(c *config.Config) {
			c.Experiments[0].Mutation = &config.MutationConfig{
				Kind: "style", Slot: "cta", Values: map[string]string{"A": "x"},
			}
		}},
		{"mutation without slot", func(c *config.Config) {
			c.Experiments[0].Mutation.Slot = ""
		}},
		{"route to unknown experiment", func(c *config.Config) {
			c.Conversions[0].Test = "missing"
		}},
		{"duplicate conversion control", func(c *config.Config) {
			c.Conversions[1].Control = c.Conversions[0].Control
		}},
		{"incomplete conversion route", func(c *config.Config) {
			c.Conversions[0].Kind = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
