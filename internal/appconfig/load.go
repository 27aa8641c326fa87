package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables read by Load, e.g. RUNIN_BAUD
// or RUNIN_LOG_LEVEL.
const EnvPrefix = "RUNIN"

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"port":              "port",
	"baud":              "baud",
	"catalog":           "catalog",
	"command-delay":     "command_delay",
	"read-poll-timeout": "read_poll_timeout",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"metrics-addr":      "metrics_addr",
}

// Load reads configuration from path, the environment and flags, in
// increasing order of precedence. If path is empty the default path is used
// and a missing file is not an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("port", cfg.Port)
	v.SetDefault("baud", cfg.Baud)
	v.SetDefault("catalog", cfg.Catalog)
	v.SetDefault("command_delay", cfg.CommandDelay)
	v.SetDefault("read_poll_timeout", cfg.ReadPollTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, err
				}
			}
		}
	}

	if err := readConfigFile(v, path, explicit); err != nil {
		return Config{}, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string, explicit bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}

		return err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && !explicit {
			return nil
		}

		return err
	}

	return nil
}
