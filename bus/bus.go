// Package bus implements the single-slot snoopy interconnect that
// serializes coherence traffic between cores.
//
// The bus carries at most one message at a time and every non-origin core
// must acknowledge it before the next broadcast is accepted. This total
// order is the single global clock the MESI protocol in package coherence
// relies on. Quiescence is only reached once every non-origin core has
// finished applying the message to its own cache (copyback included), not
// merely once it has been handed the message: Observe and Ack are
// deliberately separate calls so a snooper acknowledges only after
// ApplySnoop has completed, and the issuing controller's AwaitQuiescence
// never returns early while a copyback could still be racing its own
// refill. Quiescence detection itself is a condition-variable rendezvous,
// never a spin loop or a sleep-based timing hack.
package bus

import (
	"context"
	"errors"
	"sync"
)

// Kind identifies a coherence request type.
type Kind int

const (
	// BusRead requests a shared copy of a line (issued by a load miss).
	BusRead Kind = iota
	// BusReadX requests exclusive ownership (store miss, or an S->M
	// upgrade); it invalidates every other cached copy.
	BusReadX
)

func (k Kind) String() string {
	if k == BusReadX {
		return "BusReadX"
	}
	return "BusRead"
}

// Message is one in-flight coherence transaction.
type Message struct {
	Kind    Kind
	Address byte
	Origin  int
}

// ErrClosed is returned by Broadcast and Observe once the bus has been
// closed and no further traffic will be accepted.
var ErrClosed = errors.New("bus: closed")

// Bus is the shared single-slot broadcast medium. The zero value is not
// usable; construct one with New.
type Bus struct {
	mu   sync.Mutex
	cond *sync.Cond

	numCores  int
	current   Message
	seq       uint64 // incremented on every Broadcast
	pending   bool   // true from Broadcast until every core has acknowledged
	observed  []bool
	observedN int

	closed bool
}

// New creates a Bus serving the given number of cores.
func New(numCores int) *Bus {
	b := &Bus{
		numCores: numCores,
		observed: make([]bool, numCores),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Broadcast installs (kind, address, origin) as the current message. It
// blocks until any previous message has been fully acknowledged by every
// non-origin core before installing the new one: two broadcasts are never
// simultaneously in flight. The origin is marked as having acknowledged
// its own message immediately, since a core does not snoop itself.
func (b *Bus) Broadcast(ctx context.Context, kind Kind, address byte, origin int) error {
	unblock := watchCancellation(ctx, b.cond)
	defer unblock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	for b.pending && !b.closed {
		if err := waitOrCancel(ctx, b.cond); err != nil {
			return err
		}
	}
	if b.closed {
		return ErrClosed
	}

	b.seq++
	b.current = Message{Kind: kind, Address: address, Origin: origin}
	b.pending = true
	for i := range b.observed {
		b.observed[i] = false
	}
	b.observed[origin] = true
	b.observedN = 1
	if b.observedN == b.numCores {
		b.pending = false
	}
	b.cond.Broadcast()
	return nil
}

// Observe returns the next message newer than lastSeen to coreID, blocking
// until one is broadcast if none has arrived yet. It does not by itself
// count as having processed the message: the caller must apply the
// message to its own cache and then call Ack once that is done. lastSeen
// should be the seq returned by the caller's previous call to Observe (0
// initially).
func (b *Bus) Observe(ctx context.Context, coreID int, lastSeen uint64) (Message, uint64, error) {
	unblock := watchCancellation(ctx, b.cond)
	defer unblock()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.seq <= lastSeen && !b.closed {
		if err := waitOrCancel(ctx, b.cond); err != nil {
			return Message{}, lastSeen, err
		}
	}
	if b.seq <= lastSeen {
		return Message{}, lastSeen, ErrClosed
	}

	return b.current, b.seq, nil
}

// Ack records that coreID has finished applying the message with the
// given seq (as returned by Observe) to its own cache, including any
// copyback. Quiescence (and so the issuing controller's AwaitQuiescence)
// is only reached once every non-origin core has called Ack for the
// current message, not once it has merely been handed the message by
// Observe: this is what guarantees a controller's post-quiescence memory
// fetch always observes the latest copyback. A stale seq (one that no
// longer matches the current message) or a coreID that has already
// acknowledged the current message is a no-op.
func (b *Bus) Ack(coreID int, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq != b.seq || b.observed[coreID] {
		return
	}
	b.observed[coreID] = true
	b.observedN++
	if b.observedN == b.numCores {
		b.pending = false
		b.cond.Broadcast()
	}
}

// AwaitQuiescence blocks until every core has acknowledged (via Ack) the
// current message, i.e. until the issuing controller is free to fetch
// memory and install its line.
func (b *Bus) AwaitQuiescence(ctx context.Context) error {
	unblock := watchCancellation(ctx, b.cond)
	defer unblock()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.pending && !b.closed {
		if err := waitOrCancel(ctx, b.cond); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Close marks the bus as drained: no further broadcasts are accepted and
// every goroutine blocked in Observe or AwaitQuiescence is woken so it can
// exit cleanly. Called once every core has signaled completion.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// waitOrCancel waits on the bus condition variable, returning promptly
// with ctx.Err() if ctx is cancelled while waiting.
func waitOrCancel(ctx context.Context, cond *sync.Cond) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cond.Wait()
	return ctx.Err()
}

// watchCancellation spawns a goroutine that wakes every waiter on cond
// when ctx is cancelled, so a blocked Wait() doesn't hang forever waiting
// for a bus event that will never come. It returns a function to stop the
// watcher once the blocking call returns normally.
func watchCancellation(ctx context.Context, cond *sync.Cond) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cond.L.Lock()
			cond.Broadcast()
			cond.L.Unlock()
		case <-stop:
		}
	}()
	return func() { close(stop) }
}
