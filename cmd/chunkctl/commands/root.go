// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bpowers/chunked"
)

type globalFlags struct {
	verbose bool
	// stderr receives log output; tests point it at a buffer
	stderr io.Writer
}

func (g *globalFlags) fileOptions() []chunked.Option {
	if !g.verbose {
		return nil
	}
	logger := slog.New(slog.NewTextHandler(g.stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return []chunked.Option{chunked.WithLogger(logger)}
}

// NewRootCmd builds the chunkctl command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{stderr: os.Stderr}

	root := &cobra.Command{
		Use:   "chunkctl",
		Short: "Create and inspect chunked dataset files",
		Long: `chunkctl manages files of chunked, compressed N-dimensional datasets.

Examples:
  # Create a file from a YAML description
  chunkctl create data.chunk --config datasets.yaml

  # Show datasets and storage use
  chunkctl info data.chunk

  # Write a constant into a box and read it back
  chunkctl fill data.chunk temps --start 0,0 --shape 4,4 --value 1.5
  chunkctl dump data.chunk temps --start 0,0 --shape 6,6`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log storage events to stderr")

	root.AddCommand(
		newCreateCmd(g),
		newInfoCmd(g),
		newFillCmd(g),
		newDumpCmd(g),
		newCheckCmd(g),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// withFile opens path, runs fn and closes the file, returning the first error.
func withFile(g *globalFlags, path string, fn func(f *chunked.File) error) (err error) {
	f, err := chunked.Open(path, g.fileOptions()...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(f)
}
