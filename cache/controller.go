package cache

import (
	"context"

	"github.com/sarchlab/mesisim/bus"
	"github.com/sarchlab/mesisim/coherence"
	"github.com/sarchlab/mesisim/memory"
)

// Load performs a local load against addr (§4.3): a hit returns the
// cached value with no bus traffic; a miss (cold or conflict) copies back
// a dirty victim if needed, issues BusRead, waits for every other core to
// observe it, then fetches and installs the line as Shared.
//
// The cache lock is held for the whole operation, including any blocking
// bus traffic: that is what "a core's next operation does not begin
// until the previous operation has completed all bus traffic and cache
// installation" (§4.5) means in terms of this type, and it is safe
// because a core never needs its own snoop responder to make progress on
// its own miss (a core never snoops its own broadcast).
func (c *Cache) Load(ctx context.Context, b *bus.Bus, mem *memory.Memory, addr byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(addr)
	line := c.lineAt(i)

	if line.Matches(addr) {
		return line.Value, nil
	}

	if line.State == coherence.Modified {
		mem.Store(line.Tag, line.Value)
	}

	if err := b.Broadcast(ctx, bus.BusRead, addr, c.coreID); err != nil {
		return 0, err
	}
	if err := b.AwaitQuiescence(ctx); err != nil {
		return 0, err
	}

	val := mem.Fetch(addr)
	c.install(i, addr, val, coherence.Shared)
	return val, nil
}

// Store performs a local store of val to addr (§4.3). A hit in Modified
// or Exclusive is silent (no bus traffic). A hit in Shared first
// upgrades via BusReadX to invalidate other sharers. A miss copies back a
// dirty victim if needed, then issues BusReadX, waits for quiescence,
// installs the line, and writes val with state Modified.
func (c *Cache) Store(ctx context.Context, b *bus.Bus, mem *memory.Memory, addr, val byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(addr)
	line := c.lineAt(i)

	if line.Matches(addr) {
		if line.State == coherence.Shared {
			if err := b.Broadcast(ctx, bus.BusReadX, addr, c.coreID); err != nil {
				return err
			}
			if err := b.AwaitQuiescence(ctx); err != nil {
				return err
			}
		}
		c.setValue(i, val)
		c.setState(i, coherence.Modified)
		return nil
	}

	if line.State == coherence.Modified {
		mem.Store(line.Tag, line.Value)
	}

	if err := b.Broadcast(ctx, bus.BusReadX, addr, c.coreID); err != nil {
		return err
	}
	if err := b.AwaitQuiescence(ctx); err != nil {
		return err
	}

	// Write-allocate: the fetch-then-overwrite sequence collapses to a
	// direct install, since nothing can observe the intermediate fetched
	// value while this core holds its own cache lock.
	_ = mem.Fetch(addr)
	c.install(i, addr, val, coherence.Modified)
	return nil
}
