package core

import (
	"context"
	"errors"

	"github.com/sarchlab/mesisim/bus"
)

// Snooper observes every bus transaction and updates this core's cache
// in lockstep with the protocol (§4.4). It runs independently of this
// core's own driver: it must keep observing broadcasts from every other
// core for as long as the bus is open, even once this core's own trace
// is exhausted, because another core's AwaitQuiescence depends on this
// core acknowledging its message.
type Snooper struct {
	core *Core
}

// Run observes messages until the bus is closed or ctx is cancelled. It
// acknowledges each message only after ApplySnoop has finished mutating
// this core's cache (copyback included), so the issuing controller's
// AwaitQuiescence never returns before every snoop's side effects have
// landed.
func (s *Snooper) Run(ctx context.Context) error {
	c := s.core
	var lastSeen uint64

	for {
		msg, seq, err := c.Bus.Observe(ctx, c.ID, lastSeen)
		if errors.Is(err, bus.ErrClosed) {
			c.Log.Debug("core snooper exiting: bus closed", "core", c.ID)
			return nil
		}
		if err != nil {
			return err
		}
		lastSeen = seq

		c.Cache.ApplySnoop(c.Memory, msg)
		c.Bus.Ack(c.ID, seq)
	}
}
