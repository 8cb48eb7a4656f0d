// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command chunkctl creates and inspects chunked dataset files.
package main

import (
	"fmt"
	"os"

	"github.com/bpowers/chunked/cmd/chunkctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
