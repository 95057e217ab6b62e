// Package main provides a short pointer to the real entry point.
// mesisim is a MESI snoopy-bus cache coherence simulator: N cores, each
// with a small direct-mapped write-back cache, executing traces of
// loads and stores against a shared byte-addressable memory.
//
// For the full CLI, use: go run ./cmd/mesisim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("mesisim - MESI snoopy-bus cache coherence simulator")
	fmt.Println("")
	fmt.Println("Usage: mesisim [options] [N]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -v    verbose lifecycle logging")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/mesisim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: you provided arguments. Use 'go run ./cmd/mesisim' instead.")
	}
}
