package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AFFECTLAB_MODEL_ONNX.
const EnvPrefix = "AFFECTLAB"

// EnvConfigFile names the environment variable holding an explicit config path.
const EnvConfigFile = "AFFECTLAB_CONFIG"

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	Model   ModelConfig   `mapstructure:"model" yaml:"model"`
	FFmpeg  FFmpegConfig  `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Workers int           `mapstructure:"workers" yaml:"workers"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ModelConfig points at the network. When ONNX is set it wins over the
// topology and weights pair.
type ModelConfig struct {
	Topology    string `mapstructure:"topology" yaml:"topology"`
	Weights     string `mapstructure:"weights" yaml:"weights"`
	ONNX        string `mapstructure:"onnx" yaml:"onnx"`
	ONNXLibrary string `mapstructure:"onnx_library" yaml:"onnx_library"`
}

type FFmpegConfig struct {
	Path      string `mapstructure:"path" yaml:"path"`
	ProbePath string `mapstructure:"probe_path" yaml:"probe_path"`
}

type StoreConfig struct {
	Path    string `mapstructure:"path" yaml:"path"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

type ServerConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	UploadDir   string `mapstructure:"upload_dir" yaml:"upload_dir"`
	MaxUploadMB int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
}

type LogConfig struct {
	Development bool `mapstructure:"development" yaml:"development"`
}

// Default returns the configuration used when no file or override is present.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Topology: "model/mlp_model.json",
			Weights:  "model/mlp_model.bin",
		},
		FFmpeg: FFmpegConfig{
			Path:      "ffmpeg",
			ProbePath: "ffprobe",
		},
		Store: StoreConfig{
			Path:    "affectlab.db",
			Enabled: true,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			UploadDir:   "uploads",
			MaxUploadMB: 32,
		},
		Workers: 4,
		Timeout: 2 * time.Minute,
	}
}

// SetDefaults registers every key with its default so that env overrides
// and Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("model.topology", d.Model.Topology)
	v.SetDefault("model.weights", d.Model.Weights)
	v.SetDefault("model.onnx", d.Model.ONNX)
	v.SetDefault("model.onnx_library", d.Model.ONNXLibrary)
	v.SetDefault("ffmpeg.path", d.FFmpeg.Path)
	v.SetDefault("ffmpeg.probe_path", d.FFmpeg.ProbePath)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.upload_dir", d.Server.UploadDir)
	v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("timeout", d.Timeout)
}

// Load reads configuration into v. An explicit path, or $AFFECTLAB_CONFIG,
// must exist; otherwise affectlab.yaml is looked up in . and ./config and
// its absence is not an error. v may be nil.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("affectlab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Model.ONNX == "" && (c.Model.Topology == "" || c.Model.Weights == "") {
		return errors.New("config: model.onnx or both model.topology and model.weights are required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("config: server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative, got %s", c.Timeout)
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return errors.New("config: store.path is required when the store is enabled")
	}
	return nil
}

// MaxUploadBytes converts server.max_upload_mb to bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// Write dumps c as YAML, in the format Load reads.
func Write(w io.Writer, c *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context, falling back to defaults.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
