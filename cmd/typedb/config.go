package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jward/typedb"
)

// configFileName is looked up in the working directory when --config is not
// given.
const configFileName = "typedb"

const defaultLedgerName = "typedb.ledger"

// cliConfig is the engine configuration plus settings only the CLI uses.
type cliConfig struct {
	typedb.Config `mapstructure:",squash"`

	LedgerPath string `mapstructure:"ledger_path"`
}

// flagKeys maps persistent flags onto configuration keys. A flag only
// overrides the file when it was set.
var flagKeys = map[string]string{
	"db":               "database_path",
	"language-version": "language_version",
	"interpreter":      "interpreter_path",
	"library":          "library_path",
	"analyzer":         "analyzer_path",
	"ext-cache":        "extension_cache_dir",
	"ledger":           "ledger_path",
}

// loadConfig reads the config file, applies TYPEDB_* environment variables
// and flag overrides, and returns the result.
func loadConfig(configPath string, flags *pflag.FlagSet) (cliConfig, error) {
	v := viper.New()

	defaults := typedb.DefaultConfig()
	v.SetDefault("interpreter_id", "")
	v.SetDefault("language_version", defaults.LanguageVersion)
	v.SetDefault("interpreter_path", "")
	v.SetDefault("library_path", "")
	v.SetDefault("database_path", "")
	v.SetDefault("baseline_paths", []string{})
	v.SetDefault("expected_version", defaults.ExpectedVersion)
	v.SetDefault("watch_debounce", defaults.WatchDebounce)
	v.SetDefault("analyzer_path", "")
	v.SetDefault("global_log_path", "")
	v.SetDefault("extension_cache_dir", "")
	v.SetDefault("enumeration_script", "")
	v.SetDefault("workers", 0)
	v.SetDefault("ledger_path", "")

	v.SetEnvPrefix("TYPEDB")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cliConfig{}, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return cliConfig{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return cliConfig{}, fmt.Errorf("binding --%s: %w", name, err)
				}
			}
		}
	}

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cliConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.InterpreterID == "" {
		cfg.InterpreterID = "python-" + cfg.LanguageVersion
	}
	if cfg.LedgerPath == "" && cfg.DatabasePath != "" {
		cfg.LedgerPath = filepath.Join(filepath.Dir(filepath.Clean(cfg.DatabasePath)), defaultLedgerName)
	}
	return cfg, nil
}
