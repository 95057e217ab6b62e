// Package cache implements the per-core direct-mapped write-back,
// write-allocate cache and its MESI controller/snoop logic.
//
// The tag/index/victim bookkeeping reuses Akita's cache directory
// (github.com/sarchlab/akita/v4/mem/cache), configured here with
// associativity 1 and a 1-byte block so a "directory block" and a "cache
// line" coincide exactly as the data model requires. The MESI state
// itself, a concept the directory's IsValid/IsDirty pair cannot express
// on its own, is tracked in a parallel per-slot array alongside the
// directory.
package cache

import (
	"fmt"

	"github.com/jacobsa/syncutil"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/mesisim/coherence"
)

// pid is the Akita directory's process-id lookup key. This model has a
// single shared address space, so every lookup uses the same PID.
const pid = 0

// Cache is one core's private, direct-mapped cache of NumLines lines.
// Mutations come from exactly two callers: the core's own controller
// (local operations) and its own snoop responder (remote bus events).
// Those two paths are mutually exclusive via mu, an invariant-checked
// mutex in the idiom of jacobsa/fuse's in-memory filesystem samples: while
// syncutil's invariant checking is enabled, a broken cache-line invariant
// panics at the next lock or unlock instead of silently corrupting
// coherence state. Checking is off by default.
type Cache struct {
	mu syncutil.InvariantMutex

	coreID   int
	numLines int

	directory *akitacache.DirectoryImpl
	values    []byte
	states    []coherence.State
}

// New creates a Cache of numLines lines for the given core, all initially
// Invalid.
func New(coreID, numLines int) *Cache {
	c := &Cache{
		coreID:   coreID,
		numLines: numLines,
		directory: akitacache.NewDirectory(
			numLines, 1, 1, akitacache.NewLRUVictimFinder(),
		),
		values: make([]byte, numLines),
		states: make([]coherence.State, numLines),
	}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

// checkInvariants enforces the cache-line invariant from the data model:
// a line in a non-Invalid state has a tag and value that came from an
// actual install, and a given address lives in at most one line (which
// is structurally guaranteed here by direct mapping, but checked anyway
// since it is cheap and it is exactly the kind of thing a refactor could
// silently break).
func (c *Cache) checkInvariants() {
	seenTags := make(map[byte]int)
	for i, st := range c.states {
		if st == coherence.Invalid {
			continue
		}
		blk := c.blockAt(i)
		if blk == nil || !blk.IsValid {
			panic(fmt.Sprintf("cache: line %d has state %v but directory entry is not valid", i, st))
		}
		if line, ok := seenTags[blk.Tag]; ok {
			panic(fmt.Sprintf("cache: address %d cached in two lines (%d and %d)", blk.Tag, line, i))
		}
		seenTags[blk.Tag] = i
	}
}

// blockAt returns the directory block backing slot i. Because the
// directory is configured as K sets of associativity 1, set i's only way
// is slot i.
func (c *Cache) blockAt(i int) *akitacache.Block {
	sets := c.directory.GetSets()
	if i < 0 || i >= len(sets) || len(sets[i].Blocks) == 0 {
		return nil
	}
	return sets[i].Blocks[0]
}

// index computes the direct-mapped slot for addr.
func (c *Cache) index(addr byte) int {
	return int(addr) % c.numLines
}

// Snapshot returns a copy of line i's current state for tests and for the
// coherence-invariant checks in the test suite. Safe for concurrent use.
func (c *Cache) Snapshot(i int) coherence.Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lineAt(i)
}

// lineAt must be called with mu held.
func (c *Cache) lineAt(i int) coherence.Line {
	blk := c.blockAt(i)
	if blk == nil {
		return coherence.Line{}
	}
	return coherence.Line{Tag: blk.Tag, Value: c.values[i], State: c.states[i]}
}

// NumLines returns the number of lines in this cache.
func (c *Cache) NumLines() int {
	return c.numLines
}

// install replaces the line at slot i with (addr, val, st), updating both
// the directory's tag/validity bookkeeping and our own parallel state and
// value arrays. Must be called with mu held.
func (c *Cache) install(i int, addr, val byte, st coherence.State) {
	blk := c.directory.FindVictim(addr)
	if blk != nil {
		blk.Tag = addr
		blk.IsValid = true
		c.directory.Visit(blk)
	}
	c.values[i] = val
	c.states[i] = st
}

// setValue overwrites the value at slot i without touching its tag. Must
// be called with mu held.
func (c *Cache) setValue(i int, val byte) {
	c.values[i] = val
}

// setState transitions slot i to st, keeping the directory's IsValid flag
// in lockstep (Lookup depends on it to detect a miss). Must be called
// with mu held.
func (c *Cache) setState(i int, st coherence.State) {
	c.states[i] = st
	if blk := c.blockAt(i); blk != nil {
		blk.IsValid = st != coherence.Invalid
	}
}
