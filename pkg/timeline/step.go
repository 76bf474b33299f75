package timeline

import (
	"log/slog"

	"workbench/pkg/logging"
	"workbench/pkg/rangeset"
)

// loopBounds returns the outer bounds of the active ranges. Caller holds c.mu.
func (c *Controller) loopBounds() (rangeset.Range, bool) {
	return c.activeRanges().Bounds()
}

// firstPosition is the first playhead position whose frame fits the active
// ranges. Caller holds c.mu.
func (c *Controller) firstPosition() int64 {
	b, ok := c.loopBounds()
	if !ok {
		return c.current
	}
	return min(b.Start+c.offset, b.End)
}

// lastPosition is the end of the active ranges. Caller holds c.mu.
func (c *Controller) lastPosition() int64 {
	b, ok := c.loopBounds()
	if !ok {
		return c.current
	}
	return b.End
}

// effectiveSkip is the step size; zero or less steps by a whole frame.
// Caller holds c.mu.
func (c *Controller) effectiveSkip() int64 {
	s := c.skip
	if s <= 0 {
		s = c.offset
	}
	return max(s, 1)
}

// First moves the playhead to the first frame of the active ranges.
func (c *Controller) First() {
	c.moveTo(c.firstPosition)
}

// Last moves the playhead to the end of the active ranges.
func (c *Controller) Last() {
	c.moveTo(c.lastPosition)
}

func (c *Controller) moveTo(pos func() int64) {
	c.mu.Lock()
	c.current = pos()
	c.wrapped = false
	c.holding = rangeset.Range{}
	c.lastRange = c.activeRanges().IndexOfValue(c.current - 1)
	ev := c.showEvent()
	c.mu.Unlock()
	c.dispatch(ev)
}

// Next steps the playhead forward, skipping gaps between active ranges and
// looping back to the first frame past the end. Inside a hold range it
// first pauses, see holdStep.
func (c *Controller) Next() {
	c.step(1)
}

// Prev steps the playhead backward, looping to the end before the start.
func (c *Controller) Prev() {
	c.step(-1)
}

func (c *Controller) step(dir int64) {
	c.mu.Lock()
	active := c.activeRanges()
	if active.IsEmpty() {
		c.mu.Unlock()
		return
	}

	c.wrapped = false
	skip := c.effectiveSkip()
	if dir > 0 && c.holdStep(skip) {
		ev := c.showEvent()
		c.mu.Unlock()
		logging.TraceDefault("Timeline: held", "current", ev.Current)
		c.dispatch(ev)
		return
	}
	prev := c.current
	c.current = c.adjust(dir, prev+dir*skip, skip, active)
	c.clamp(dir)
	ev := c.showEvent()
	c.mu.Unlock()

	c.dispatch(ev)
}

// holdStep reports whether a forward step stays put because the playhead
// sits in a hold range. On reaching a hold range the playhead pauses for as
// many steps as the range spans, then moves on through the rest of it.
// Caller holds c.mu.
func (c *Controller) holdStep(skip int64) bool {
	i := c.hold.IndexOfValue(c.current)
	if i < 0 {
		c.holding = rangeset.Range{}
		c.holdLeft = 0
		return false
	}
	r := c.hold.At(i)
	if r != c.holding {
		c.holding = r
		c.holdLeft = (r.Len() + skip - 1) / skip
	}
	if c.holdLeft == 0 {
		return false
	}
	c.holdLeft--
	return true
}

// inActive reports whether a frame ending at pos overlaps the active ranges.
// Caller holds c.mu.
func (c *Controller) inActive(pos int64, active *rangeset.Set) bool {
	if c.offset <= 0 {
		return active.ContainsValue(pos)
	}
	return active.Overlaps(rangeset.Range{Start: pos - c.offset, End: pos})
}

// adjust moves a candidate position that fell into a gap to the nearest
// range in the step direction, leaving the frame partly overlapping the
// range edge. A candidate past either end is returned as-is for clamp.
// Caller holds c.mu.
func (c *Controller) adjust(dir, candidate, skip int64, active *rangeset.Set) int64 {
	if c.inActive(candidate, active) {
		c.lastRange = active.IndexOfValue(candidate - 1)
		return candidate
	}

	ranges := active.Ranges()
	if dir > 0 {
		for i := max(c.lastRange+1, 0); i < len(ranges); i++ {
			r := ranges[i]
			if r.Start < candidate {
				continue
			}
			pos := r.Start + min(skip, r.Len())
			if pos <= c.current {
				continue
			}
			slog.Debug("Timeline: skipping gap", "from", c.current, "to", pos)
			c.lastRange = i
			return pos
		}
		return candidate
	}

	upper := len(ranges) - 1
	if c.lastRange >= 0 && c.lastRange <= upper {
		upper = c.lastRange
	}
	for i := upper; i >= 0; i-- {
		r := ranges[i]
		if r.End > candidate-c.offset {
			continue
		}
		pos := r.End - min(skip, r.Len()) + c.offset
		if pos >= c.current {
			continue
		}
		slog.Debug("Timeline: skipping gap", "from", c.current, "to", pos)
		c.lastRange = i
		return pos
	}
	return candidate
}

// clamp loops the playhead once it has left the active ranges in the
// direction of travel. Caller holds c.mu.
func (c *Controller) clamp(dir int64) {
	b, ok := c.loopBounds()
	if !ok {
		return
	}
	switch {
	case dir > 0 && c.current > b.End:
		c.current = c.firstPosition()
		c.wrapped = true
	case dir < 0 && c.current-c.offset < b.Start:
		c.current = c.lastPosition()
		c.wrapped = true
	default:
		return
	}
	c.lastRange = -1
	c.holding = rangeset.Range{}
	logging.TraceDefault("Timeline: looped", "current", c.current)
}

// Clamp loops the playhead forward if it has run past the active ranges.
func (c *Controller) Clamp() {
	c.mu.Lock()
	before := c.current
	c.clamp(1)
	if c.current == before {
		c.mu.Unlock()
		return
	}
	ev := c.showEvent()
	c.mu.Unlock()
	c.dispatch(ev)
}

// HasNext reports whether the next forward step stays inside the active
// ranges. Directly after a loop it reports false once, so a caller polling
// once per frame sees the end of each pass.
func (c *Controller) HasNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wrapped {
		c.wrapped = false
		return false
	}
	b, ok := c.loopBounds()
	if !ok {
		return false
	}
	return c.current+c.effectiveSkip() <= b.End
}
