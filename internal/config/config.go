// Package config loads runtime settings from defaults, an optional YAML file
// and MRI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Brownie44l1/mri-classifier/internal/preprocess"
)

// EnvPrefix is prepended to every environment variable, e.g. MRI_SERVER_PORT.
const EnvPrefix = "MRI"

// Source kinds for the model artifact.
const (
	SourceNone   = "none"
	SourceGDrive = "gdrive"
	SourceHTTP   = "http"
	SourceAzure  = "azure"
)

type Config struct {
	Server   ServerConfig
	Model    ModelConfig
	Download DownloadConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

type ModelConfig struct {
	Path           string
	MetadataPath   string
	RuntimeLibrary string
	Threads        int
	ImageSize      int
	Layout         string
	Interpolation  string
	Source         SourceConfig
}

type SourceConfig struct {
	Kind   string
	FileID string
	URL    string
	Azure  AzureConfig
}

type AzureConfig struct {
	Account   string
	Key       string
	Container string
	Blob      string
}

type DownloadConfig struct {
	Timeout  time.Duration
	Progress bool
}

type LogConfig struct {
	Level  string
	Format string
}

// ServerAddress joins host and port for http.Server.
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.Server.Host), strconv.Itoa(c.Server.Port))
}

// SetDefaults registers every key with its default so that env overrides
// resolve even when no config file is present.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("server.request_timeout", "60s")

	v.SetDefault("model.path", "models/brain_tumor_model.onnx")
	v.SetDefault("model.metadata_path", "")
	v.SetDefault("model.runtime_library", "")
	v.SetDefault("model.threads", 0)
	v.SetDefault("model.image_size", 128)
	v.SetDefault("model.layout", "nhwc")
	v.SetDefault("model.interpolation", "nearest")
	v.SetDefault("model.source.kind", SourceGDrive)
	v.SetDefault("model.source.file_id", "")
	v.SetDefault("model.source.url", "")
	v.SetDefault("model.source.azure.account", "")
	v.SetDefault("model.source.azure.key", "")
	v.SetDefault("model.source.azure.container", "")
	v.SetDefault("model.source.azure.blob", "")

	v.SetDefault("download.timeout", "10m")
	v.SetDefault("download.progress", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration into a Config. configFile may be empty, in which
// case ./mriclassify.yaml is used when present.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("mriclassify")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			MaxUploadBytes: v.GetInt64("server.max_upload_bytes"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
		},
		Model: ModelConfig{
			Path:           v.GetString("model.path"),
			MetadataPath:   v.GetString("model.metadata_path"),
			RuntimeLibrary: v.GetString("model.runtime_library"),
			Threads:        v.GetInt("model.threads"),
			ImageSize:      v.GetInt("model.image_size"),
			Layout:         strings.ToLower(v.GetString("model.layout")),
			Interpolation:  strings.ToLower(v.GetString("model.interpolation")),
			Source: SourceConfig{
				Kind:   strings.ToLower(v.GetString("model.source.kind")),
				FileID: v.GetString("model.source.file_id"),
				URL:    v.GetString("model.source.url"),
				Azure: AzureConfig{
					Account:   v.GetString("model.source.azure.account"),
					Key:       v.GetString("model.source.azure.key"),
					Container: v.GetString("model.source.azure.container"),
					Blob:      v.GetString("model.source.azure.blob"),
				},
			},
		},
		Download: DownloadConfig{
			Timeout:  v.GetDuration("download.timeout"),
			Progress: v.GetBool("download.progress"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be > 0 (got %d)", c.Server.MaxUploadBytes)
	}
	if c.Server.RequestTimeout <= 0 || c.Download.Timeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, download=%s)",
			c.Server.RequestTimeout, c.Download.Timeout)
	}
	if strings.TrimSpace(c.Model.Path) == "" {
		return errors.New("model.path is required")
	}
	if c.Model.ImageSize <= 0 {
		return fmt.Errorf("model.image_size must be > 0 (got %d)", c.Model.ImageSize)
	}
	if c.Model.Threads < 0 {
		return fmt.Errorf("model.threads must be >= 0 (got %d)", c.Model.Threads)
	}
	if _, err := preprocess.ParseLayout(c.Model.Layout); err != nil {
		return fmt.Errorf("model.layout: %w", err)
	}
	if _, err := preprocess.ParseInterpolation(c.Model.Interpolation); err != nil {
		return fmt.Errorf("model.interpolation: %w", err)
	}
	switch c.Model.Source.Kind {
	case SourceNone, SourceGDrive, SourceHTTP:
	case SourceAzure:
		az := c.Model.Source.Azure
		if az.Account == "" || az.Container == "" || az.Blob == "" {
			return errors.New("model.source.azure requires account, container and blob")
		}
	default:
		return fmt.Errorf("unknown model.source.kind %q", c.Model.Source.Kind)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	return nil
}
