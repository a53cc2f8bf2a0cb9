package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/getmockd/vbackend/pkg/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VBACKEND"

// Load reads the configuration. When path is empty, vbackend.yaml is
// looked up in the working directory and the user config directory, and
// a missing file is not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("vbackend")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(store.DefaultConfigDir())
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every field of def with v, so that environment
// variables can override keys the file does not mention.
func setDefaults(v *viper.Viper, def *Config) error {
	data, err := yaml.Marshal(def)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	flatten("", tree, v.SetDefault)
	return nil
}

func flatten(prefix string, tree map[string]any, set func(key string, value any)) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flatten(key, sub, set)
			continue
		}
		set(key, val)
	}
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
