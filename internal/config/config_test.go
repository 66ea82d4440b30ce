package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiolens/radiolens/internal/modality"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	specs := cfg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, []string{"Normal", "Pneumonia"}, specs[modality.XRay].Labels)
	assert.Equal(t, "Koushim/breast-cancer-swin-classifier", specs[modality.CT].ModelID)
	assert.Equal(t, 224, specs[modality.CT].ImageSize)
	assert.Equal(t, "Malignant Tumor", cfg.Rephrase["malignant"])
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radiolens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  x-ray:
    device: cuda:0
  ct:
    model_id: acme/ct-v2
    labels: [no_finding, malignant]
rephrase:
  no_finding: No Finding
inference:
  endpoint: http://models.internal:8000
  max_retries: 5
insight:
  provider: anthropic
  max_tokens: 300
server:
  port: "9090"
  warm_models: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	xray := cfg.Models["X-RAY"]
	assert.Equal(t, "cuda:0", xray.Device)
	assert.Equal(t, "nickmuchi/vit-finetuned-chest-xray-pneumonia", xray.ModelID)
	assert.Equal(t, []string{"Normal", "Pneumonia"}, xray.Labels)

	ct := cfg.Models["CT"]
	assert.Equal(t, "acme/ct-v2", ct.ModelID)
	assert.Equal(t, []string{"no_finding", "malignant"}, ct.Labels)
	assert.Equal(t, "cpu", ct.Device)
	assert.Equal(t, 224, ct.ImageSize)

	assert.Equal(t, map[string]string{"no_finding": "No Finding"}, cfg.Rephrase)
	assert.Equal(t, "http://models.internal:8000", cfg.Inference.Endpoint)
	assert.Equal(t, 5, cfg.Inference.Retries())
	assert.Equal(t, 60, cfg.Inference.TimeoutSeconds)

	assert.Equal(t, "anthropic", cfg.Insight.Provider)
	assert.Empty(t, cfg.Insight.Model, "provider default model applies")
	assert.EqualValues(t, 300, cfg.Insight.MaxTokens)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.Server.WarmModels)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [oops"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"INFERENCE_ENDPOINT":     "http://localhost:9000",
		"COMPUTE_DEVICE":         "mps",
		"INSIGHT_PROVIDER":       "anthropic",
		"INSIGHT_MODEL":          "claude-3-5-haiku-latest",
		"PORT":                   "7000",
		"LOG_LEVEL":              "debug",
		"RADIOLENS_SECRETS_FILE": "/run/secrets/radiolens.yaml",
		"RADIOLENS_ENV":          "production",
		"RADIOLENS_WARM_MODELS":  "true",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "http://localhost:9000", cfg.Inference.Endpoint)
	assert.Equal(t, "mps", cfg.Models["CT"].Device)
	assert.Equal(t, "mps", cfg.Models["X-RAY"].Device)
	assert.Equal(t, "anthropic", cfg.Insight.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Insight.Model)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/run/secrets/radiolens.yaml", cfg.SecretsFile)
	assert.True(t, cfg.Server.Production)
	assert.True(t, cfg.Server.WarmModels)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"no labels":        func(c *Config) { m := c.Models["CT"]; m.Labels = nil; c.Models["CT"] = m },
		"duplicate labels": func(c *Config) { m := c.Models["CT"]; m.Labels = []string{"a", "a"}; c.Models["CT"] = m },
		"bad device":       func(c *Config) { m := c.Models["X-RAY"]; m.Device = "tpu"; c.Models["X-RAY"] = m },
		"missing model":    func(c *Config) { delete(c.Models, "X-RAY") },
		"unknown modality": func(c *Config) { c.Models["MRI"] = c.Models["CT"] },
		"no model id":      func(c *Config) { m := c.Models["CT"]; m.ModelID = ""; c.Models["CT"] = m },
		"provider":         func(c *Config) { c.Insight.Provider = "watson" },
		"timeout":          func(c *Config) { c.Inference.TimeoutSeconds = 0 },
		"negative retries": func(c *Config) { n := -1; c.Inference.MaxRetries = &n },
		"upload limit":     func(c *Config) { c.Server.MaxUploadMB = 0 },
		"negative upload":  func(c *Config) { c.Server.MaxUploadMB = -4 },
		"rate limit":       func(c *Config) { c.Server.RequestsPerMin = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBackendConfig(t *testing.T) {
	bc := Default().BackendConfig("hf_123")
	assert.Equal(t, "hf_123", bc.Token)
	assert.Equal(t, 60*time.Second, bc.Timeout)
	assert.EqualValues(t, 3, bc.MaxRetries)
}

func TestLoadZeroRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radiolens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("inference:\n  max_retries: 0\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.Inference.Retries())
	assert.Zero(t, cfg.BackendConfig("").MaxRetries)

	var unset InferenceConfig
	assert.Equal(t, DefaultMaxRetries, unset.Retries())
}

func TestFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radiolens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7000\"\nlog_level: debug\n"), 0o600))

	env := map[string]string{
		"RADIOLENS_CONFIG": path,
		"LOG_LEVEL":        "warn",
	}
	cfg, err := FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
	require.NotNil(t, cfg.Getenv)
	assert.Equal(t, path, cfg.Getenv("RADIOLENS_CONFIG"))

	env["RADIOLENS_CONFIG"] = filepath.Join(t.TempDir(), "nope.yaml")
	_, err = FromEnv(func(k string) string { return env[k] })
	assert.Error(t, err)
}
