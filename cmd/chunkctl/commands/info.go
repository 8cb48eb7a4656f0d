// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bpowers/chunked"
)

func newInfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE",
		Short: "Show datasets and storage use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFile(g, args[0], func(f *chunked.File) error {
				return printInfo(cmd.OutOrStdout(), f)
			})
		},
	}
}

func printInfo(w io.Writer, f *chunked.File) error {
	st := f.Stats()
	printPairs(w, [][2]string{
		{"ID", f.ID().String()},
		{"Generation", strconv.FormatUint(f.Generation(), 10)},
		{"Size", strconv.FormatUint(st.Size, 10)},
		{"Live bytes", fmt.Sprintf("%d in %d extents", st.LiveBytes, st.LiveExtents)},
		{"Free bytes", fmt.Sprintf("%d in %d extents", st.FreeBytes, st.FreeExtents)},
	})
	fmt.Fprintln(w)

	table := newTable(w)
	table.SetHeader([]string{"Name", "Datatype", "Shape", "Chunk", "Codecs", "Chunks", "Stored", "Raw"})
	for _, name := range f.Datasets() {
		ds, err := f.Dataset(name)
		if err != nil {
			return err
		}
		info, err := ds.Info()
		if err != nil {
			return err
		}
		table.Append([]string{
			info.Name,
			info.Datatype.String(),
			formatDims(info.Shape),
			formatDims(info.Chunk),
			formatCodecs(info.Codecs),
			fmt.Sprintf("%d/%d", info.Chunks, product(info.Grid)),
			strconv.FormatUint(info.StoredBytes, 10),
			strconv.FormatUint(info.RawBytes, 10),
		})
	}
	table.Render()
	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func printPairs(w io.Writer, pairs [][2]string) {
	table := newTable(w)
	table.SetAutoFormatHeaders(false)
	table.SetColumnSeparator(":")
	for _, p := range pairs {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
}

func formatDims(dims []uint64) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.FormatUint(d, 10)
	}
	return strings.Join(parts, "x")
}

func formatCodecs(codecs []chunked.StageConfig) string {
	if len(codecs) == 0 {
		return "-"
	}
	parts := make([]string, len(codecs))
	for i, c := range codecs {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

func product(dims []uint64) uint64 {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}
