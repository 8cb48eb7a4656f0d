// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package commands

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/bpowers/chunked"
)

// DatasetSpec describes one dataset in a create config file.
type DatasetSpec struct {
	Name                  string `mapstructure:"name" yaml:"name"`
	chunked.DatasetConfig `mapstructure:",squash" yaml:",inline"`
	// FillValue is parsed according to the datatype, e.g. "-1" or "NaN".
	FillValue string `mapstructure:"fill" yaml:"fill,omitempty"`
}

// CreateConfig is the document read by chunkctl create.
type CreateConfig struct {
	// Overwrite allows replacing an existing file.
	Overwrite bool          `mapstructure:"overwrite" yaml:"overwrite"`
	Datasets  []DatasetSpec `mapstructure:"datasets" yaml:"datasets"`
}

// LoadCreateConfig reads path (YAML, TOML or JSON by extension).  Top-level
// scalar settings may be overridden with CHUNKCTL_ environment variables,
// e.g. CHUNKCTL_OVERWRITE=true.
func LoadCreateConfig(path string) (*CreateConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("CHUNKCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("overwrite", false)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg CreateConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		// datatype names like "float32"
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// resolve parses fill values and rejects duplicate or missing names.
func (c *CreateConfig) resolve() error {
	if len(c.Datasets) == 0 {
		return fmt.Errorf("%w: no datasets configured", chunked.ErrConfig)
	}
	seen := make(map[string]bool, len(c.Datasets))
	for i := range c.Datasets {
		ds := &c.Datasets[i]
		if ds.Name == "" {
			return fmt.Errorf("%w: dataset %d has no name", chunked.ErrConfig, i)
		}
		if seen[ds.Name] {
			return fmt.Errorf("%w: dataset %q configured twice", chunked.ErrConfig, ds.Name)
		}
		seen[ds.Name] = true

		if err := ds.Datatype.Valid(); err != nil {
			return fmt.Errorf("dataset %q: %w", ds.Name, err)
		}
		if ds.FillValue != "" {
			fill, err := ds.Datatype.ParseValue(ds.FillValue)
			if err != nil {
				return fmt.Errorf("dataset %q: fill: %w", ds.Name, err)
			}
			ds.Fill = fill
		}
	}
	return nil
}
