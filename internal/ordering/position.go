// Package ordering keeps user-orderable sequences (lists in a project, tasks in a
// list) sorted by a real-valued position without renumbering siblings on every move.
package ordering

import "math"

// DefaultGap is the spacing between adjacent items on append and renumbering.
const DefaultGap = 16384

// Item is one member of an ordered sequence.
type Item struct {
	ID          string  `json:"id"`
	ContainerID string  `json:"containerId"`
	Position    float64 `json:"position"`
}

// Container owns a sequence. MaxPosition is a hint for O(1) append and is
// never trusted for bisection.
type Container struct {
	ID          string  `json:"id"`
	MaxPosition float64 `json:"maxPosition"`
}

// Policy holds the spacing unit and the collision thresholds.
type Policy struct {
	Gap              float64
	TopThreshold     float64
	BetweenThreshold float64
}

func DefaultPolicy() Policy {
	return Policy{Gap: DefaultGap, TopThreshold: 1, BetweenThreshold: 1}
}

// Normalize fills zero values with defaults. Thresholds must stay well above
// float64 epsilon for positions around Gap * (number of items).
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.Gap <= 0 {
		p.Gap = def.Gap
	}
	if p.TopThreshold <= 0 {
		p.TopThreshold = def.TopThreshold
	}
	if p.BetweenThreshold <= 0 {
		p.BetweenThreshold = def.BetweenThreshold
	}
	return p
}

// AppendToEnd returns the position for a new last item and advances the
// container's MaxPosition. liveMax is the largest position actually stored,
// so a stale hint heals itself here.
func (p Policy) AppendToEnd(c *Container, liveMax float64) float64 {
	base := math.Max(c.MaxPosition, liveMax)
	pos := base + p.Gap
	c.MaxPosition = pos
	return pos
}

func (p Policy) MoveToStart(first Item) float64 {
	return first.Position / 2
}

func (p Policy) MoveBetween(above, below Item) (float64, error) {
	if above.Position == below.Position {
		return 0, invariant("neighbor items %s and %s have the same position %v", above.ID, below.ID, above.Position)
	}
	return (above.Position + below.Position) / 2, nil
}

// ShrinkMax returns the MaxPosition to keep after the item at removed leaves
// the container. remainingMax is the largest position still present (0 if none).
func (p Policy) ShrinkMax(c Container, removed, remainingMax float64) float64 {
	if removed != c.MaxPosition {
		return c.MaxPosition
	}
	return math.Max(math.Max(c.MaxPosition-p.Gap, remainingMax), 0)
}
