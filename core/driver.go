package core

import (
	"context"
	"errors"
	"io"

	"github.com/sarchlab/mesisim/trace"
)

// Driver pulls decoded operations from a core's trace source and drives
// its cache controller one operation at a time (§4.5). A core's
// operations retire strictly in trace order: the driver never starts
// operation n+1 until operation n has completed all bus traffic and
// cache installation, because it is a single goroutine making blocking
// calls into the cache.
type Driver struct {
	core *Core
}

// Run executes operations until the trace is exhausted, a parse error
// is hit, or ctx is cancelled. End-of-file is reported as a clean nil
// return, matching "EOF terminates the core cleanly" (§4.3).
func (d *Driver) Run(ctx context.Context) error {
	c := d.core
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		op, err := c.source.Next()
		if errors.Is(err, io.EOF) {
			c.Log.Debug("core driver reached end of trace", "core", c.ID)
			return nil
		}
		if err != nil {
			c.Sink.TraceError(c.ID, err)
			c.Log.Warn("core driver stopped on trace error", "core", c.ID, "err", err)
			return err
		}

		switch op.Kind {
		case trace.Load:
			val, err := c.Cache.Load(ctx, c.Bus, c.Memory, op.Address)
			if err != nil {
				return err
			}
			c.Sink.Emit(c.ID, op, val)

		case trace.Store:
			if err := c.Cache.Store(ctx, c.Bus, c.Memory, op.Address, op.Value); err != nil {
				return err
			}
			c.Sink.Emit(c.ID, op, op.Value)
		}
	}
}
