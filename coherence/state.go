// Package coherence defines the MESI line states and the labelled
// (state, event) transition tables that drive both the cache controller
// and the snoop responder. The tables are plain data, not fall-through
// switch statements: the original C source that this protocol is drawn
// from relied on a `case M: ... case S: ...` fall-through to force its
// miss path, which is fragile and easy to break under maintenance. Here
// every transition is named explicitly.
package coherence

import "github.com/sarchlab/mesisim/bus"

// State is one of the four MESI line states.
type State int

const (
	// Invalid means the line holds no usable data; its tag and value are
	// undefined.
	Invalid State = iota
	// Shared means the line may also be cached, clean, by other cores.
	Shared
	// Exclusive means the line is cached only here and is clean. The
	// baseline protocol in this repository never installs a line in this
	// state (every load miss collapses to Shared, per the data model's
	// "state collapse" rule) but the state is preserved so a future
	// implementation can promote solo loads without changing this table.
	Exclusive
	// Modified means the line is cached only here and is dirty: memory is
	// stale for its address until a copyback happens.
	Modified
)

// String renders a State for diagnostics and trace assertions.
func (s State) String() string {
	switch s {
	case Invalid:
		return "I"
	case Shared:
		return "S"
	case Exclusive:
		return "E"
	case Modified:
		return "M"
	default:
		return "?"
	}
}

// HasData reports whether a line in this state holds a valid tag/value
// pair (i.e. is anything other than Invalid).
func (s State) HasData() bool {
	return s != Invalid
}

// SnoopResult names what a snoop responder must do upon observing a bus
// message against a line whose tag matches the message's address.
type SnoopResult struct {
	// Copyback is true if the line's current value must be written back
	// to memory before the state change below takes effect.
	Copyback bool
	// Next is the line's state after the snoop.
	Next State
}

// snoopTable is the explicit (state, bus-event) -> result mapping for the
// MESI state machine (§4.4). A line in Exclusive behaves like one in
// Shared for BusRead and like one in either for BusReadX; it is listed
// separately so the table reads the same as the protocol's own state
// diagram, rather than relying on a reader noticing the two are
// equivalent.
var snoopTable = map[State]map[bus.Kind]SnoopResult{
	Invalid: {
		bus.BusRead:  {Next: Invalid},
		bus.BusReadX: {Next: Invalid},
	},
	Shared: {
		bus.BusRead:  {Next: Shared},
		bus.BusReadX: {Next: Invalid},
	},
	Exclusive: {
		bus.BusRead:  {Next: Shared},
		bus.BusReadX: {Next: Invalid},
	},
	Modified: {
		bus.BusRead:  {Copyback: true, Next: Shared},
		bus.BusReadX: {Copyback: true, Next: Invalid},
	},
}

// Snoop looks up the result of observing a bus message of the given kind
// against a line currently in state s. The caller is responsible for
// first checking that the line's tag matches the message's address: a
// tag mismatch means this line is not a party to the transaction at all,
// which is not representable in this table because no state change ever
// applies in that case.
func Snoop(s State, kind bus.Kind) SnoopResult {
	return snoopTable[s][kind]
}
