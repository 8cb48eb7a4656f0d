// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/chunked"
)

const testConfig = `
datasets:
  - name: grid
    datatype: int16
    shape: [3, 4]
    chunk: [2, 2]
    fill: "-1"
    codecs:
      - name: shuffle
      - name: deflate
        level: 6
      - name: checksum
        algorithm: farm
  - name: raw
    datatype: float64
    shape: [10]
    chunk: [4]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datasets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadCreateConfig(t *testing.T) {
	cfg, err := LoadCreateConfig(writeConfig(t, testConfig))
	require.NoError(t, err)
	require.Len(t, cfg.Datasets, 2)
	assert.False(t, cfg.Overwrite)

	g := cfg.Datasets[0]
	assert.Equal(t, "grid", g.Name)
	assert.Equal(t, chunked.Int16, g.Datatype)
	assert.Equal(t, []uint64{3, 4}, g.Shape)
	assert.Equal(t, []uint64{2, 2}, g.Chunk)
	assert.Equal(t, []byte{0xff, 0xff}, g.Fill)
	assert.Equal(t, []chunked.StageConfig{
		{Name: "shuffle"},
		{Name: "deflate", Level: 6},
		{Name: "checksum", Algorithm: "farm"},
	}, g.Codecs)

	r := cfg.Datasets[1]
	assert.Equal(t, chunked.Float64, r.Datatype)
	assert.Nil(t, r.Fill)
	assert.Empty(t, r.Codecs)
}

func TestLoadCreateConfig_EnvOverride(t *testing.T) {
	t.Setenv("CHUNKCTL_OVERWRITE", "true")
	cfg, err := LoadCreateConfig(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.True(t, cfg.Overwrite)
}

func TestLoadCreateConfig_Errors(t *testing.T) {
	for name, body := range map[string]string{
		"empty":     "datasets: []\n",
		"no name":   "datasets:\n  - datatype: int8\n    shape: [1]\n    chunk: [1]\n",
		"duplicate": "datasets:\n  - {name: a, datatype: int8, shape: [1], chunk: [1]}\n  - {name: a, datatype: int8, shape: [1], chunk: [1]}\n",
		"datatype":  "datasets:\n  - {name: a, datatype: int9, shape: [1], chunk: [1]}\n",
		"fill":      "datasets:\n  - {name: a, datatype: uint8, shape: [1], chunk: [1], fill: \"300\"}\n",
	} {
		_, err := LoadCreateConfig(writeConfig(t, body))
		assert.Error(t, err, name)
	}

	_, err := LoadCreateConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCommands_EndToEnd(t *testing.T) {
	cfgPath := writeConfig(t, testConfig)
	path := filepath.Join(t.TempDir(), "data.chunk")

	out, err := run(t, "create", path, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2 datasets")

	_, err = run(t, "create", path, "--config", cfgPath)
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "fill", path, "grid", "--start", "1,1", "--shape", "2,2", "--value", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 4 elements")

	out, err = run(t, "dump", path, "grid")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"[0 0]: -1 -1 -1 -1",
		"[1 0]: -1 7 7 -1",
		"[2 0]: -1 7 7 -1",
		"",
	}, "\n"), out)

	out, err = run(t, "dump", path, "grid", "--start", "2,1", "--shape", "1,3")
	require.NoError(t, err)
	assert.Equal(t, "[2 1]: 7 7 -1\n", out)

	_, err = run(t, "dump", path, "grid", "--start", "2,1", "--shape", "2,3")
	assert.ErrorIs(t, err, chunked.ErrShape)

	_, err = run(t, "fill", path, "raw", "--value", "nope")
	assert.ErrorIs(t, err, chunked.ErrConfig)

	_, err = run(t, "dump", path, "missing")
	assert.ErrorIs(t, err, chunked.ErrNotFound)

	out, err = run(t, "info", path)
	require.NoError(t, err)
	assert.Contains(t, out, "grid")
	assert.Contains(t, out, "int16")
	assert.Contains(t, out, "3x4")
	assert.Contains(t, out, "4/4")
	assert.Contains(t, out, "raw")
	assert.Contains(t, out, "0/3")

	out, err = run(t, "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok, 2 datasets")
}

func TestWriteRows(t *testing.T) {
	var buf bytes.Buffer
	data := []byte{1, 2, 3, 4, 5, 6}
	writeRows(&buf, chunked.Uint8, []uint64{5, 0, 2}, []uint64{1, 2, 3}, data)
	assert.Equal(t, "[5 0 2]: 1 2 3\n[5 1 2]: 4 5 6\n", buf.String())

	buf.Reset()
	writeRows(&buf, chunked.Uint8, []uint64{0}, []uint64{0}, nil)
	assert.Empty(t, buf.String())
}
