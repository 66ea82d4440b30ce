// Package config holds the static configuration: which model serves which
// modality, label sets, compute device, insight provider and server options.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/radiolens/radiolens/internal/classify"
	"github.com/radiolens/radiolens/internal/insight"
	"github.com/radiolens/radiolens/internal/modality"
	"github.com/radiolens/radiolens/internal/rephrase"
	"github.com/radiolens/radiolens/internal/secrets"
)

// ModelConfig is one modality's classifier.
type ModelConfig struct {
	ModelID   string   `yaml:"model_id"`
	Labels    []string `yaml:"labels"`
	Device    string   `yaml:"device"`
	ImageSize int      `yaml:"image_size"`
}

// InferenceConfig points at the model server.
type InferenceConfig struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// MaxRetries is a pointer so a file can set 0; nil means DefaultMaxRetries.
	MaxRetries *int `yaml:"max_retries"`
	// TokenEnv names the variable (or secrets key) with the server token.
	TokenEnv string `yaml:"token_env"`
}

// DefaultMaxRetries applies when inference.max_retries is unset.
const DefaultMaxRetries = 3

// Retries is MaxRetries with the default applied.
func (i InferenceConfig) Retries() int {
	if i.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *i.MaxRetries
}

// ServerConfig covers the HTTP front-end.
type ServerConfig struct {
	Port           string `yaml:"port"`
	TLSDomain      string `yaml:"tls_domain"`
	ACMEEmail      string `yaml:"acme_email"`
	Production     bool   `yaml:"production"`
	MaxUploadMB    int64  `yaml:"max_upload_mb"`
	WarmModels     bool   `yaml:"warm_models"`
	RequestsPerMin int    `yaml:"requests_per_minute"`
}

// Config is the whole configuration surface.
type Config struct {
	Models      map[string]ModelConfig `yaml:"models"`
	Rephrase    map[string]string      `yaml:"rephrase"`
	Inference   InferenceConfig        `yaml:"inference"`
	Insight     insight.ProviderConfig `yaml:"insight"`
	Server      ServerConfig           `yaml:"server"`
	SecretsFile string                 `yaml:"secrets_file"`
	LogLevel    string                 `yaml:"log_level"`

	// Getenv is the environment lookup FromEnv was given. Credentials are
	// resolved through it; nil means os.Getenv.
	Getenv func(string) string `yaml:"-"`
}

// Default mirrors the models the project ships with.
func Default() *Config {
	return &Config{
		Models: map[string]ModelConfig{
			modality.CT.String(): {
				ModelID:   "Koushim/breast-cancer-swin-classifier",
				Labels:    []string{"benign", "malignant"},
				Device:    "cpu",
				ImageSize: 224,
			},
			modality.XRay.String(): {
				ModelID: "nickmuchi/vit-finetuned-chest-xray-pneumonia",
				Labels:  []string{"Normal", "Pneumonia"},
				Device:  "cpu",
			},
		},
		Rephrase: maps.Clone(rephrase.DefaultTable),
		Inference: InferenceConfig{
			Endpoint:       "https://api-inference.huggingface.co",
			TimeoutSeconds: 60,
			MaxRetries:     intPtr(DefaultMaxRetries),
			TokenEnv:       "HF_TOKEN",
		},
		Insight: insight.ProviderConfig{
			Provider:  insight.ProviderGemini,
			Model:     "gemini-1.5-flash",
			MaxTokens: 512,
		},
		Server: ServerConfig{
			Port:           "8080",
			MaxUploadMB:    32,
			RequestsPerMin: 30,
		},
		SecretsFile: secrets.DefaultPath,
		LogLevel:    "info",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults. Model entries only need the fields they change.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.merge(&file)
	return cfg, nil
}

func (c *Config) merge(file *Config) {
	for key, m := range file.Models {
		name := modality.Parse(key).String()
		if name == modality.Unknown.String() {
			name = key
		}
		base := c.Models[name]
		if m.ModelID != "" {
			base.ModelID = m.ModelID
		}
		if len(m.Labels) > 0 {
			base.Labels = m.Labels
		}
		if m.Device != "" {
			base.Device = m.Device
		}
		if m.ImageSize != 0 {
			base.ImageSize = m.ImageSize
		}
		c.Models[name] = base
	}
	if file.Rephrase != nil {
		c.Rephrase = file.Rephrase
	}

	if file.Inference.Endpoint != "" {
		c.Inference.Endpoint = file.Inference.Endpoint
	}
	if file.Inference.TimeoutSeconds != 0 {
		c.Inference.TimeoutSeconds = file.Inference.TimeoutSeconds
	}
	if file.Inference.MaxRetries != nil {
		c.Inference.MaxRetries = file.Inference.MaxRetries
	}
	if file.Inference.TokenEnv != "" {
		c.Inference.TokenEnv = file.Inference.TokenEnv
	}

	if file.Insight.Provider != "" {
		c.Insight.Provider = file.Insight.Provider
		// A different provider has different model names.
		c.Insight.Model = ""
	}
	if file.Insight.Model != "" {
		c.Insight.Model = file.Insight.Model
	}
	if file.Insight.MaxTokens != 0 {
		c.Insight.MaxTokens = file.Insight.MaxTokens
	}
	if file.Insight.Endpoint != "" {
		c.Insight.Endpoint = file.Insight.Endpoint
	}
	if file.Insight.APIKeyEnv != "" {
		c.Insight.APIKeyEnv = file.Insight.APIKeyEnv
	}
	c.Insight.UseBedrock = c.Insight.UseBedrock || file.Insight.UseBedrock

	if file.Server.Port != "" {
		c.Server.Port = file.Server.Port
	}
	if file.Server.TLSDomain != "" {
		c.Server.TLSDomain = file.Server.TLSDomain
	}
	if file.Server.ACMEEmail != "" {
		c.Server.ACMEEmail = file.Server.ACMEEmail
	}
	if file.Server.MaxUploadMB != 0 {
		c.Server.MaxUploadMB = file.Server.MaxUploadMB
	}
	if file.Server.RequestsPerMin != 0 {
		c.Server.RequestsPerMin = file.Server.RequestsPerMin
	}
	c.Server.Production = c.Server.Production || file.Server.Production
	c.Server.WarmModels = c.Server.WarmModels || file.Server.WarmModels

	if file.SecretsFile != "" {
		c.SecretsFile = file.SecretsFile
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
}

// DefaultFile is read when RADIOLENS_CONFIG is unset and the file exists.
const DefaultFile = "radiolens.yaml"

// FromEnv loads the file named by RADIOLENS_CONFIG (or DefaultFile when
// present), then applies environment overrides.
func FromEnv(getenv func(string) string) (*Config, error) {
	path := getenv("RADIOLENS_CONFIG")
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(getenv)
	cfg.Getenv = getenv
	return cfg, nil
}

// ApplyEnv lets deployment environment variables override the file.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Inference.Endpoint, "INFERENCE_ENDPOINT")
	if v := getenv("COMPUTE_DEVICE"); v != "" {
		for name, m := range c.Models {
			m.Device = strings.TrimSpace(v)
			c.Models[name] = m
		}
	}
	if v := strings.TrimSpace(getenv("INSIGHT_PROVIDER")); v != "" && !strings.EqualFold(v, c.Insight.Provider) {
		c.Insight.Provider = v
		c.Insight.Model = ""
	}
	set(&c.Insight.Model, "INSIGHT_MODEL")
	set(&c.Server.Port, "PORT")
	set(&c.Server.TLSDomain, "RADIOLENS_TLS_DOMAIN")
	set(&c.Server.ACMEEmail, "ACME_EMAIL")
	set(&c.SecretsFile, "RADIOLENS_SECRETS_FILE")
	set(&c.LogLevel, "LOG_LEVEL")
	if getenv("RADIOLENS_ENV") == "production" {
		c.Server.Production = true
	}
	if v, err := strconv.ParseBool(getenv("RADIOLENS_WARM_MODELS")); err == nil {
		c.Server.WarmModels = v
	}
}

var devicePattern = regexp.MustCompile(`^(cpu|mps|cuda(:\d+)?)$`)

// Validate checks every supported modality has a usable model entry.
func (c *Config) Validate() error {
	var errs []error
	for _, m := range modality.Supported() {
		mc, ok := c.Models[m.String()]
		if !ok {
			errs = append(errs, fmt.Errorf("models.%s: missing", m))
			continue
		}
		if mc.ModelID == "" {
			errs = append(errs, fmt.Errorf("models.%s: model_id is required", m))
		}
		if len(mc.Labels) == 0 {
			errs = append(errs, fmt.Errorf("models.%s: labels must not be empty", m))
		}
		seen := make(map[string]bool, len(mc.Labels))
		for _, l := range mc.Labels {
			if l == "" {
				errs = append(errs, fmt.Errorf("models.%s: empty label", m))
			}
			if seen[l] {
				errs = append(errs, fmt.Errorf("models.%s: duplicate label %q", m, l))
			}
			seen[l] = true
		}
		if !devicePattern.MatchString(mc.Device) {
			errs = append(errs, fmt.Errorf("models.%s: unknown device %q", m, mc.Device))
		}
		if mc.ImageSize < 0 {
			errs = append(errs, fmt.Errorf("models.%s: image_size must not be negative", m))
		}
	}
	for name := range c.Models {
		if modality.Parse(name) == modality.Unknown {
			errs = append(errs, fmt.Errorf("models.%s: unsupported modality", name))
		}
	}
	if c.Inference.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("inference.timeout_seconds must be positive"))
	}
	if c.Inference.Retries() < 0 {
		errs = append(errs, errors.New("inference.max_retries must not be negative"))
	}
	if c.Server.MaxUploadMB < 1 {
		errs = append(errs, errors.New("server.max_upload_mb must be at least 1"))
	}
	if c.Server.RequestsPerMin < 1 {
		errs = append(errs, errors.New("server.requests_per_minute must be at least 1"))
	}
	switch strings.ToLower(c.Insight.Provider) {
	case insight.ProviderGemini, insight.ProviderAnthropic, insight.ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("insight.provider: unknown provider %q", c.Insight.Provider))
	}
	return errors.Join(errs...)
}

// Specs converts the model entries into classifier specs.
func (c *Config) Specs() map[modality.Modality]classify.Spec {
	out := make(map[modality.Modality]classify.Spec, len(c.Models))
	for name, mc := range c.Models {
		m := modality.Parse(name)
		if m == modality.Unknown {
			continue
		}
		out[m] = classify.Spec{
			ModelID:   mc.ModelID,
			Labels:    slices.Clone(mc.Labels),
			Device:    mc.Device,
			ImageSize: mc.ImageSize,
		}
	}
	return out
}

// BackendConfig is the model server client configuration. token is
// resolved by the caller.
func (c *Config) BackendConfig(token string) classify.BackendConfig {
	return classify.BackendConfig{
		Endpoint:   c.Inference.Endpoint,
		Token:      token,
		Timeout:    time.Duration(c.Inference.TimeoutSeconds) * time.Second,
		MaxRetries: uint64(c.Inference.Retries()),
	}
}

func intPtr(v int) *int { return &v }
