package coherence

// Line is one cache line: the unit of coherence state. A Line with State
// Invalid has undefined Tag/Value; callers must not read them.
type Line struct {
	Tag   byte
	Value byte
	State State
}

// Matches reports whether this line currently holds valid data for addr.
func (l Line) Matches(addr byte) bool {
	return l.State.HasData() && l.Tag == addr
}
