// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bpowers/chunked"
)

func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE",
		Short: "Verify extent bookkeeping and decode every stored chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFile(g, args[0], func(f *chunked.File) error {
				if err := f.Check(); err != nil {
					return fmt.Errorf("check failed:\n%w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d datasets\n", args[0], len(f.Datasets()))
				return nil
			})
		},
	}
}
