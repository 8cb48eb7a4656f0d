// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bpowers/chunked"
)

func newCreateCmd(g *globalFlags) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "create FILE --config datasets.yaml",
		Short: "Create a file with the configured datasets",
		Long: `Create a new file holding empty datasets described by a config file:

  datasets:
    - name: temps
      datatype: float32
      shape: [365, 180, 360]
      chunk: [1, 90, 90]
      fill: NaN
      codecs:
        - name: shuffle
        - name: zstd
          level: 3
        - name: checksum`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadCreateConfig(configPath)
			if err != nil {
				return err
			}
			if err := createFile(g, args[0], cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s with %d datasets\n", args[0], len(cfg.Datasets))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "dataset description file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func createFile(g *globalFlags, path string, cfg *CreateConfig) (err error) {
	if !cfg.Overwrite {
		if _, statErr := os.Stat(path); statErr == nil {
			return fmt.Errorf("%s already exists (set overwrite: true to replace it)", path)
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return statErr
		}
	}

	f, err := chunked.Create(path, g.fileOptions()...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, ds := range cfg.Datasets {
		if _, err := f.CreateDataset(ds.Name, ds.DatasetConfig); err != nil {
			return fmt.Errorf("dataset %q: %w", ds.Name, err)
		}
	}
	return f.Flush()
}
