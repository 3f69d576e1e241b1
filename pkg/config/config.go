package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config.yaml"
	directoryPerm  = 0o700
	configFilePerm = 0o600
)

const (
	DefaultBind        = "0.0.0.0:0"
	DefaultBufferSize  = 65535
	DefaultSendTimeout = 5 * time.Second
	DefaultLogLevel    = "info"

	maxTTL = 255
	maxTOS = 255
)

type Config struct {
	Bind        string        `yaml:"bind,omitempty"`
	LogLevel    string        `yaml:"logLevel,omitempty"`
	SendTimeout time.Duration `yaml:"sendTimeout,omitempty"`
	BufferSize  int           `yaml:"bufferSize,omitempty"`
	TTL         int           `yaml:"ttl,omitempty"`
	TOS         int           `yaml:"tos,omitempty"`
	WriteBuffer int           `yaml:"writeBuffer,omitempty"`
	Broadcast   bool          `yaml:"broadcast,omitempty"`
}

func Default() *Config {
	return &Config{
		Bind:        DefaultBind,
		BufferSize:  DefaultBufferSize,
		SendTimeout: DefaultSendTimeout,
		LogLevel:    DefaultLogLevel,
	}
}

// Path is the location of the config file within dir.
func Path(dir string) string {
	return filepath.Join(dir, configFileName)
}

// Load reads config.yaml from dir. A missing or empty file yields the
// defaults; fields left out of the file keep their default values.
func Load(dir string) (*Config, error) {
	path := Path(dir)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(dir string, cfg *Config) error {
	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, directoryPerm); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := renameio.WriteFile(Path(dir), encoded, configFilePerm); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Bind != "" {
		if _, _, err := net.SplitHostPort(c.Bind); err != nil {
			return fmt.Errorf("bind: %w", err)
		}
	}
	if c.BufferSize < 0 || c.BufferSize > DefaultBufferSize {
		return fmt.Errorf("bufferSize must be within [0, %d]", DefaultBufferSize)
	}
	if c.TTL < 0 || c.TTL > maxTTL {
		return fmt.Errorf("ttl must be within [0, %d]", maxTTL)
	}
	if c.TOS < 0 || c.TOS > maxTOS {
		return fmt.Errorf("tos must be within [0, %d]", maxTOS)
	}
	if c.WriteBuffer < 0 {
		return errors.New("writeBuffer must be >= 0")
	}
	if c.SendTimeout < 0 {
		return errors.New("sendTimeout must be >= 0")
	}
	if c.LogLevel != "" {
		if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
	}
	return nil
}
