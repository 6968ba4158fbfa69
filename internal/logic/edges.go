package logic

// RisingEdges returns, per channel, whether it went from released to pressed
// between two consecutive samples.
func RisingEdges(prev, cur [NumChannels]bool) [NumChannels]bool {
	var edges [NumChannels]bool
	for i := range cur {
		edges[i] = cur[i] && !prev[i]
	}
	return edges
}

// Chase steps a single lit LED around the four positions.
// The zero value starts at position 0.
type Chase struct {
	pos   int
	ticks int
}

// Tick advances the tick counter. Every ChaseDivisor ticks of the given mode the
// lit position moves one step, forward or backward with wraparound.
// It reports whether the position moved.
func (c *Chase) Tick(mode Mode, forward bool) bool {
	c.ticks++
	if c.ticks < mode.ChaseDivisor() {
		return false
	}
	c.ticks = 0
	if forward {
		c.pos = (c.pos + 1) % NumChannels
	} else {
		c.pos = (c.pos + NumChannels - 1) % NumChannels
	}
	return true
}

// Position returns the index of the lit LED.
func (c *Chase) Position() int {
	return c.pos
}

// Pattern returns the LED states for the current position; exactly one is lit.
func (c *Chase) Pattern() [NumChannels]bool {
	var p [NumChannels]bool
	p[c.pos] = true
	return p
}
