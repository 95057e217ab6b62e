// Package sim instantiates main memory, the interconnect bus, and N
// cores, starts them, and flushes modified lines at shutdown (§4.8).
// This is the top-level wiring layer; none of the coherence protocol
// itself lives here.
package sim

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/mesisim/bus"
	"github.com/sarchlab/mesisim/core"
	"github.com/sarchlab/mesisim/logging"
	"github.com/sarchlab/mesisim/memory"
	"github.com/sarchlab/mesisim/sink"
	"github.com/sarchlab/mesisim/trace"
)

// Config holds simulator-wide parameters, set via the functional Options
// below.
type Config struct {
	Cores      int
	CacheLines int
	MemorySize int
	TraceDir   string
	Stdout     io.Writer
	Logger     *logging.Logger
}

// Option configures a Simulator at construction time.
type Option func(*Config)

// WithCoreCount sets the number of cores (default 2, per §6).
func WithCoreCount(n int) Option { return func(c *Config) { c.Cores = n } }

// WithCacheLines sets K, the number of direct-mapped lines per core's
// cache (default 2, per §3's baseline).
func WithCacheLines(k int) Option { return func(c *Config) { c.CacheLines = k } }

// WithMemorySize sets M, the number of addressable bytes of main memory
// (default 24, per §3's baseline).
func WithMemorySize(m int) Option { return func(c *Config) { c.MemorySize = m } }

// WithTraceDir sets the directory `input_<k>.txt` files are read from
// (default the current working directory).
func WithTraceDir(dir string) Option { return func(c *Config) { c.TraceDir = dir } }

// WithStdout overrides the console sink's writer (default os.Stdout).
func WithStdout(w io.Writer) Option { return func(c *Config) { c.Stdout = w } }

// WithLogger overrides the lifecycle logger (default logging.New(nil)).
func WithLogger(l *logging.Logger) Option { return func(c *Config) { c.Logger = l } }

func defaultConfig() Config {
	return Config{
		Cores:      2,
		CacheLines: 2,
		MemorySize: memory.DefaultSize,
		TraceDir:   ".",
		Stdout:     os.Stdout,
	}
}

// Simulator owns the shared memory, the shared bus, and every core.
type Simulator struct {
	cfg   Config
	mem   *memory.Memory
	bus   *bus.Bus
	sink  *sink.Sink
	log   *logging.Logger
	cores []*core.Core
}

// New builds a Simulator, opening each core's trace file eagerly so a
// missing trace file is reported before the simulation starts (a
// resource-exhaustion failure per §7, not a per-core trace error).
func New(opts ...Option) (*Simulator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New(nil)
	}

	mem := memory.New(cfg.MemorySize)
	b := bus.New(cfg.Cores)
	sk := sink.New(cfg.Stdout)

	cores := make([]*core.Core, cfg.Cores)
	for i := 0; i < cfg.Cores; i++ {
		path := filepath.Join(cfg.TraceDir, fmt.Sprintf("input_%d.txt", i))
		src, err := trace.Open(path)
		if err != nil {
			return nil, fmt.Errorf("sim: opening trace for core %d: %w", i, err)
		}
		cores[i] = core.New(i, cfg.CacheLines, b, mem, sk, cfg.Logger, src)
	}

	return &Simulator{cfg: cfg, mem: mem, bus: b, sink: sk, log: cfg.Logger, cores: cores}, nil
}

// Memory exposes the shared main memory, primarily for tests.
func (s *Simulator) Memory() *memory.Memory { return s.mem }

// Run executes the simulation to completion (§4.8):
//  1. prints the "before" memory dump;
//  2. starts every core's driver and snoop-responder goroutines;
//  3. waits for every driver to finish, then closes the bus so every
//     snoop responder can drain and exit;
//  4. flushes every core's Modified lines to memory;
//  5. prints the "after" memory dump.
//
// It returns one of the trace errors encountered by any core, if any. A
// core-local trace error does not abort other cores, but is surfaced to
// the caller so the process can choose a non-zero exit code policy.
func (s *Simulator) Run(ctx context.Context) error {
	s.sink.MemoryDump(s.mem.Snapshot())

	var snoopers errgroup.Group
	for _, c := range s.cores {
		c := c
		snoopers.Go(func() error { return c.RunSnooper(ctx) })
	}

	var drivers errgroup.Group
	for _, c := range s.cores {
		c := c
		drivers.Go(func() error {
			s.log.Info("core driver starting", "core", c.ID)
			err := c.RunDriver(ctx)
			s.log.Info("core driver finished", "core", c.ID)
			return err
		})
	}

	driverErr := drivers.Wait()
	s.bus.Close()
	snoopErr := snoopers.Wait()

	for _, c := range s.cores {
		c.Flush()
		if err := c.Close(); err != nil {
			s.log.Warn("error closing trace source", "core", c.ID, "err", err)
		}
	}

	s.sink.MemoryDump(s.mem.Snapshot())

	if driverErr != nil {
		return driverErr
	}
	return snoopErr
}
