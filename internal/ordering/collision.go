package ordering

import "math"

// TopCollision reports whether there is too little headroom above zero to
// halve the first position again.
func (p Policy) TopCollision(first Item) bool {
	return first.Position <= p.TopThreshold
}

// BetweenCollision reports whether two neighbors are too close to bisect.
func (p Policy) BetweenCollision(above, below Item) bool {
	return math.Abs(above.Position-below.Position) <= p.BetweenThreshold
}

// RenumberAll rewrites the whole sequence: moved goes to Gap and the siblings
// follow at 2*Gap, 3*Gap, ... in their current order. siblings must be
// ascending and must not contain moved. It returns the renumbered siblings and
// the new maximum position.
func (p Policy) RenumberAll(siblings []Item, moved Item) (Item, []Item, float64) {
	moved.Position = p.Gap
	renumbered := make([]Item, 0, len(siblings))
	maxPos := moved.Position
	for index, item := range siblings {
		item.Position = p.Gap*float64(index+1) + p.Gap
		renumbered = append(renumbered, item)
		maxPos = item.Position
	}
	return moved, renumbered, maxPos
}

// RenumberAfter resolves a collision between siblings[belowIdx-1] and
// siblings[belowIdx] locally. moved lands Gap past the old below position,
// below is pushed 2*Gap past moved, and the items after below are shifted
// only while they would otherwise sit at or too close to the previous
// position. Items before below are never touched.
func (p Policy) RenumberAfter(siblings []Item, belowIdx int, moved Item, maxPos float64) (Item, []Item, float64) {
	below := siblings[belowIdx]
	moved.Position = math.Ceil(below.Position + p.Gap)
	below.Position = math.Ceil(moved.Position + p.Gap*2)

	affected := []Item{below}
	maxPos = math.Max(maxPos, math.Max(moved.Position, below.Position))

	prev := below.Position
	for _, item := range siblings[belowIdx+1:] {
		if item.Position-prev > p.BetweenThreshold {
			break
		}
		item.Position = math.Ceil(math.Max(item.Position, prev) + p.Gap*2)
		affected = append(affected, item)
		prev = item.Position
		if item.Position > maxPos {
			maxPos = item.Position
		}
	}
	return moved, affected, maxPos
}

// RenumberFrom assigns Gap, 2*Gap, ... to items in their current order and
// returns only those whose position actually changed.
func (p Policy) RenumberFrom(items []Item) ([]Item, float64) {
	changed := make([]Item, 0, len(items))
	maxPos := 0.0
	for index, item := range items {
		next := p.Gap * float64(index+1)
		if item.Position != next {
			item.Position = next
			changed = append(changed, item)
		}
		maxPos = next
	}
	return changed, maxPos
}
