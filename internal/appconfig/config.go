// Package appconfig loads the runinctl configuration from an optional YAML
// file, RUNIN_* environment variables and command-line flags.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arloliu/go-runin/logger"
	"github.com/arloliu/go-runin/sequencer"
	"github.com/arloliu/go-runin/transport"
	"gopkg.in/yaml.v3"
)

// Config is the runinctl configuration.
type Config struct {
	// Port is the serial device path; empty means auto-select.
	Port            string        `mapstructure:"port" yaml:"port"`
	Baud            int           `mapstructure:"baud" yaml:"baud"`
	Catalog         string        `mapstructure:"catalog" yaml:"catalog"`
	CommandDelay    time.Duration `mapstructure:"command_delay" yaml:"command_delay"`
	ReadPollTimeout time.Duration `mapstructure:"read_poll_timeout" yaml:"read_poll_timeout"`
	Log             LogConfig     `mapstructure:"log" yaml:"log"`
	MetricsAddr     string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Baud:            transport.DefaultBaudRate,
		CommandDelay:    sequencer.DefaultCommandDelay,
		ReadPollTimeout: transport.DefaultReadPollTimeout,
		Log: LogConfig{
			Level:  "info",
			Format: string(logger.FormatConsole),
		},
	}
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/runinctl/config.yaml or its
// platform equivalent.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "runinctl", "config.yaml"), nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.CommandDelay < 0 || c.CommandDelay > sequencer.MaxCommandDelay {
		return fmt.Errorf("command_delay %v out of range [0, %v]", c.CommandDelay, sequencer.MaxCommandDelay)
	}
	if c.ReadPollTimeout < transport.MinReadPollTimeout || c.ReadPollTimeout > transport.MaxReadPollTimeout {
		return fmt.Errorf("read_poll_timeout %v out of range [%v, %v]",
			c.ReadPollTimeout, transport.MinReadPollTimeout, transport.MaxReadPollTimeout)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	switch logger.Format(c.Log.Format) {
	case logger.FormatAuto, logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}

	return nil
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}
