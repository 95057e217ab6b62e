package cache

import (
	"github.com/sarchlab/mesisim/bus"
	"github.com/sarchlab/mesisim/coherence"
	"github.com/sarchlab/mesisim/memory"
)

// ApplySnoop applies one observed bus message from another core to this
// cache (§4.4). A message from this core's own origin is never applied:
// a core does not snoop itself. If this cache holds no line matching the
// message's address, nothing happens beyond the bus-level observation
// bookkeeping the caller already performed.
func (c *Cache) ApplySnoop(mem *memory.Memory, msg bus.Message) {
	if msg.Origin == c.coreID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(msg.Address)
	line := c.lineAt(i)
	if !line.Matches(msg.Address) {
		return
	}

	result := coherence.Snoop(line.State, msg.Kind)
	if result.Copyback {
		mem.Store(line.Tag, line.Value)
	}
	c.setState(i, result.Next)
}

// Flush writes back every line currently in Modified state and
// invalidates it, matching the terminal rule in §4.3: "at shutdown,
// every line in state M is flushed to memory." Called once this core's
// driver and snoop responder have both stopped, so no concurrent
// mutation is possible.
func (c *Cache) Flush(mem *memory.Memory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, st := range c.states {
		if st != coherence.Modified {
			continue
		}
		blk := c.blockAt(i)
		if blk != nil {
			mem.Store(blk.Tag, c.values[i])
		}
		c.setState(i, coherence.Invalid)
	}
}
