// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bpowers/chunked"
	"github.com/bpowers/chunked/internal/fill"
)

// box is a --start/--shape flag pair.
type box struct {
	start []uint
	shape []uint
}

func (b *box) register(cmd *cobra.Command) {
	cmd.Flags().UintSliceVar(&b.start, "start", nil, "first element of the box, one value per dimension (default origin)")
	cmd.Flags().UintSliceVar(&b.shape, "shape", nil, "box extent per dimension (default to the end of the dataset)")
}

// resolve fills in defaults against the dataset's dimensions.
func (b *box) resolve(dims []uint64) (start, shape []uint64, err error) {
	start = make([]uint64, len(dims))
	shape = make([]uint64, len(dims))
	if b.start != nil && len(b.start) != len(dims) {
		return nil, nil, fmt.Errorf("%w: --start has %d values, dataset has %d dimensions", chunked.ErrShape, len(b.start), len(dims))
	}
	if b.shape != nil && len(b.shape) != len(dims) {
		return nil, nil, fmt.Errorf("%w: --shape has %d values, dataset has %d dimensions", chunked.ErrShape, len(b.shape), len(dims))
	}
	for i := range dims {
		if b.start != nil {
			start[i] = uint64(b.start[i])
		}
		if b.shape != nil {
			shape[i] = uint64(b.shape[i])
		} else if start[i] < dims[i] {
			shape[i] = dims[i] - start[i]
		}
		if end := start[i] + shape[i]; end < start[i] || end > dims[i] {
			return nil, nil, fmt.Errorf("%w: dimension %d: box [%d, %d+%d) exceeds extent %d", chunked.ErrShape, i, start[i], start[i], shape[i], dims[i])
		}
	}
	return start, shape, nil
}

func newFillCmd(g *globalFlags) *cobra.Command {
	var (
		b     box
		value string
	)
	cmd := &cobra.Command{
		Use:   "fill FILE DATASET --value V",
		Short: "Write one value into every element of a box",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFile(g, args[0], func(f *chunked.File) error {
				ds, err := f.Dataset(args[1])
				if err != nil {
					return err
				}
				start, shape, err := b.resolve(ds.Shape())
				if err != nil {
					return err
				}
				elem, err := ds.Datatype().ParseValue(value)
				if err != nil {
					return err
				}
				n := uint64(1)
				for _, d := range shape {
					n *= d
				}
				buf := fill.New(int(n)*len(elem), elem)
				if err := ds.WriteHyperslab(start, shape, buf); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d elements\n", n)
				return nil
			})
		},
	}
	b.register(cmd)
	cmd.Flags().StringVar(&value, "value", "", "element value, parsed according to the datatype")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newDumpCmd(g *globalFlags) *cobra.Command {
	var b box
	cmd := &cobra.Command{
		Use:   "dump FILE DATASET",
		Short: "Print the elements of a box, one row of the last dimension per line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFile(g, args[0], func(f *chunked.File) error {
				ds, err := f.Dataset(args[1])
				if err != nil {
					return err
				}
				start, shape, err := b.resolve(ds.Shape())
				if err != nil {
					return err
				}
				data, err := ds.ReadHyperslab(start, shape)
				if err != nil {
					return err
				}
				writeRows(cmd.OutOrStdout(), ds.Datatype(), start, shape, data)
				return nil
			})
		},
	}
	b.register(cmd)
	return cmd
}

// writeRows prints data (row-major, shape) as "[i j]: v v v" lines, one per
// run of the last dimension, prefixed with the coordinate of its first element.
func writeRows(w io.Writer, dt chunked.Datatype, start, shape []uint64, data []byte) {
	last := len(shape) - 1
	rowBytes := int(shape[last]) * dt.Size
	if rowBytes == 0 {
		return
	}
	coord := append([]uint64(nil), start...)
	var sb strings.Builder
	for off := 0; off+rowBytes <= len(data); off += rowBytes {
		sb.Reset()
		fmt.Fprintf(&sb, "%v:", coord)
		for e := off; e < off+rowBytes; e += dt.Size {
			sb.WriteByte(' ')
			sb.WriteString(dt.FormatValue(data[e : e+dt.Size]))
		}
		fmt.Fprintln(w, sb.String())

		for i := last - 1; i >= 0; i-- {
			coord[i]++
			if coord[i] < start[i]+shape[i] {
				break
			}
			coord[i] = start[i]
		}
	}
}
