// Package core assembles one simulated core: its private cache, its
// driver (which pulls decoded operations from a trace source and feeds
// them through the cache's MESI controller), and its snoop responder
// (which observes every bus transaction issued by other cores). The
// driver and the snooper run as two concurrent goroutines per core.
package core

import (
	"context"

	"github.com/sarchlab/mesisim/bus"
	"github.com/sarchlab/mesisim/cache"
	"github.com/sarchlab/mesisim/logging"
	"github.com/sarchlab/mesisim/memory"
	"github.com/sarchlab/mesisim/sink"
	"github.com/sarchlab/mesisim/trace"
)

// Core is one simulated processor: an ID, a private cache, and the
// shared collaborators (bus, memory, sink) it drives its operations
// through.
type Core struct {
	ID     int
	Cache  *cache.Cache
	Bus    *bus.Bus
	Memory *memory.Memory
	Sink   *sink.Sink
	Log    *logging.Logger

	source *trace.Source
}

// New creates a Core with a fresh cache of numLines lines, reading its
// trace from source.
func New(id, numLines int, b *bus.Bus, mem *memory.Memory, s *sink.Sink, log *logging.Logger, source *trace.Source) *Core {
	return &Core{
		ID:     id,
		Cache:  cache.New(id, numLines),
		Bus:    b,
		Memory: mem,
		Sink:   s,
		Log:    log,
		source: source,
	}
}

// RunDriver runs this core's driver loop to completion (§4.5): it
// returns nil on a clean end-of-trace, or the first trace error
// encountered. If ctx is cancelled, or a bus call inside Load/Store
// fails, it returns that error instead; only trace errors are reported to
// the sink.
func (c *Core) RunDriver(ctx context.Context) error {
	d := &Driver{core: c}
	return d.Run(ctx)
}

// RunSnooper runs this core's snoop responder loop until the bus is
// closed or ctx is cancelled (§4.4). It must keep observing broadcasts
// from other cores even after this core's own driver has finished: a
// core that stopped snooping early could leave another core's
// AwaitQuiescence blocked forever waiting for an acknowledgement that
// will never come. See DESIGN.md for this as a resolved open question.
func (c *Core) RunSnooper(ctx context.Context) error {
	s := &Snooper{core: c}
	return s.Run(ctx)
}

// Flush writes back this core's Modified lines to memory. Call only
// after both RunDriver and RunSnooper have returned for every core in
// the simulation, so no concurrent snoop can race the writeback.
func (c *Core) Flush() {
	c.Cache.Flush(c.Memory)
}

// Close releases the trace source.
func (c *Core) Close() error {
	return c.source.Close()
}
