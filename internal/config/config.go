// Package config loads editor settings from YAML and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete editor configuration.
type Config struct {
	Models  ModelsConfig  `mapstructure:"models"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Editor  EditorConfig  `mapstructure:"editor"`
}

// ModelsConfig locates the ONNX model files.
type ModelsConfig struct {
	Encoder string `mapstructure:"encoder"`
	Decoder string `mapstructure:"decoder"`
	Depth   string `mapstructure:"depth"`

	// RemoteEncoder, when set, is the base URL of an embedding server used
	// instead of the local encoder model.
	RemoteEncoder string `mapstructure:"remote_encoder"`
}

// RuntimeConfig controls the inference runtime.
type RuntimeConfig struct {
	LibraryPath string `mapstructure:"library_path"`
	UseCUDA     bool   `mapstructure:"use_cuda"`
	Threads     int    `mapstructure:"threads"`
}

type StoreConfig struct {
	Backend string        `mapstructure:"backend"` // "file" or "redis"
	Dir     string        `mapstructure:"dir"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type EditorConfig struct {
	AutosaveInterval time.Duration `mapstructure:"autosave_interval"`
}

// Load reads configuration from a YAML file. Variables prefixed with
// CUTOUT_ override file values (CUTOUT_STORE_BACKEND=redis).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("cutout")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New loads config.yaml from the working directory, falling back to defaults.
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("models.encoder", "models/mobile_sam_encoder_no_preprocess.onnx")
	v.SetDefault("models.decoder", "models/mobilesam.decoder.onnx")
	v.SetDefault("models.depth", "models/depth_anything_vits14.onnx")
	v.SetDefault("models.remote_encoder", "")

	v.SetDefault("runtime.library_path", "")
	v.SetDefault("runtime.use_cuda", true)
	v.SetDefault("runtime.threads", 0)

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", "")
	v.SetDefault("store.timeout", 5*time.Second)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.ttl", time.Duration(0))
	v.SetDefault("store.redis.prefix", "cutout:")

	v.SetDefault("log.mode", "development")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("editor.autosave_interval", 30*time.Second)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Encoder: "models/mobile_sam_encoder_no_preprocess.onnx",
			Decoder: "models/mobilesam.decoder.onnx",
			Depth:   "models/depth_anything_vits14.onnx",
		},
		Runtime: RuntimeConfig{
			UseCUDA: true,
		},
		Store: StoreConfig{
			Backend: "file",
			Timeout: 5 * time.Second,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "cutout:",
			},
		},
		Log: LogConfig{
			Mode: "development",
		},
		Editor: EditorConfig{
			AutosaveInterval: 30 * time.Second,
		},
	}
}
