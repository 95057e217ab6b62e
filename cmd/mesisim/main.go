// Package main provides the entry point for mesisim, a MESI snoopy-bus
// cache coherence simulator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/sarchlab/mesisim/logging"
	"github.com/sarchlab/mesisim/sim"
)

var verbose = flag.Bool("v", false, "verbose lifecycle logging")

func main() {
	flag.Parse()

	numCores := 2
	if flag.NArg() >= 1 {
		n, err := strconv.Atoi(flag.Arg(0))
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "Usage: mesisim [-v] [N]\n")
			fmt.Fprintf(os.Stderr, "\nOptions:\n")
			flag.PrintDefaults()
			os.Exit(1)
		}
		numCores = n
	}

	logLevel := logging.LevelInfo
	if *verbose {
		logLevel = logging.LevelDebug
	}
	log := logging.New(&logging.Config{Level: logLevel, Output: os.Stderr})

	s, err := sim.New(sim.WithCoreCount(numCores), sim.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting simulator: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		// A per-core trace error was already reported on the console by
		// the sink; this just gives the process a non-zero exit code.
		os.Exit(1)
	}
}
