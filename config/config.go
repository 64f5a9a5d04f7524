// Package config loads the YAML configuration shared by every command.
//
// Values are layered: built-in defaults, then the YAML file, then the
// REMBG_* environment variables. Command-line flags are applied by the
// caller on top of the result.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

const (
	EnvModelEndpoint = "REMBG_MODEL_ENDPOINT"
	EnvLogLevel      = "REMBG_LOG_LEVEL"
)

type Config struct {
	Input    string `yaml:"input"`
	Output   string `yaml:"output"`
	LogLevel string `yaml:"log_level"`

	Threshold ThresholdConfig `yaml:"threshold"`
	Model     ModelConfig     `yaml:"model"`
	Server    ServerConfig    `yaml:"server"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ThresholdConfig tunes the brightness-ramp fallback.
type ThresholdConfig struct {
	Tolerance    float64 `yaml:"tolerance"`
	Cutoff       float64 `yaml:"cutoff"`
	ChromaSpread int     `yaml:"chroma_spread"`
	Feather      float64 `yaml:"feather"`
	ClearColor   string  `yaml:"clear_color"`
}

// ModelConfig points at a ComfyUI server running the BiRefNet workflow.
// An empty Endpoint disables the model tier.
type ModelConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxSize      int           `yaml:"max_size"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type WatchConfig struct {
	Inbox    string `yaml:"inbox"`
	Outbox   string `yaml:"outbox"`
	Schedule string `yaml:"schedule"`
}

func Default() *Config {
	return &Config{
		Input:    "input/logo.jpg",
		Output:   "public/logo.png",
		LogLevel: "info",
		Threshold: ThresholdConfig{
			Tolerance: 210,
			Cutoff:    245,
		},
		Model: ModelConfig{
			Timeout:      2 * time.Minute,
			ProbeTimeout: 3 * time.Second,
			PollInterval: 500 * time.Millisecond,
			MaxSize:      1024,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 20 << 20,
		},
		Watch: WatchConfig{
			Inbox:    "inbox",
			Outbox:   "outbox",
			Schedule: "@every 1m",
		},
	}
}

// Load reads path over the defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v, ok := os.LookupEnv(EnvModelEndpoint); ok {
		cfg.Model.Endpoint = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	t := c.Threshold
	if t.Tolerance < 0 || t.Cutoff > 255 || t.Tolerance >= t.Cutoff {
		errs = append(errs, fmt.Errorf("threshold: need 0 <= tolerance < cutoff <= 255, got %v/%v", t.Tolerance, t.Cutoff))
	}
	if t.ChromaSpread < 0 || t.ChromaSpread > 255 {
		errs = append(errs, fmt.Errorf("threshold: chroma_spread %d out of range", t.ChromaSpread))
	}
	if t.Feather < 0 {
		errs = append(errs, fmt.Errorf("threshold: feather %v is negative", t.Feather))
	}
	if _, _, err := t.Clear(); err != nil {
		errs = append(errs, err)
	}
	if c.Model.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("model: max_size %d must be positive", c.Model.MaxSize))
	}
	if c.Model.PollInterval <= 0 {
		errs = append(errs, errors.New("model: poll_interval must be positive"))
	}
	if c.Watch.Inbox != "" && filepath.Clean(c.Watch.Inbox) == filepath.Clean(c.Watch.Outbox) {
		errs = append(errs, errors.New("watch: inbox and outbox must differ"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server: max_upload_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// Clear parses ClearColor. ok is false when no colour is configured.
func (t ThresholdConfig) Clear() (c color.NRGBA, ok bool, err error) {
	if t.ClearColor == "" {
		return color.NRGBA{}, false, nil
	}
	cc, err := colorful.Hex(t.ClearColor)
	if err != nil {
		return color.NRGBA{}, false, fmt.Errorf("threshold: clear_color %q: %w", t.ClearColor, err)
	}
	r, g, b := cc.RGB255()
	return color.NRGBA{R: r, G: g, B: b}, true, nil
}
