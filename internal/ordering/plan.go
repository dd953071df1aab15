package ordering

import (
	"math"
	"sort"
)

// MoveRequest names where an item should go. An empty BelowID moves the item
// to the end; an empty AboveID with a BelowID moves it to the start.
type MoveRequest struct {
	TargetContainerID string `json:"targetContainerId,omitempty"`
	AboveID           string `json:"aboveId,omitempty"`
	BelowID           string `json:"belowId,omitempty"`
}

// Strategy records which branch of the planner produced an outcome.
type Strategy string

const (
	StrategyEnd           Strategy = "end"
	StrategyStart         Strategy = "start"
	StrategyBetween       Strategy = "between"
	StrategyRenumberAll   Strategy = "renumber_all"
	StrategyRenumberAfter Strategy = "renumber_after"
	StrategyRebalance     Strategy = "rebalance"
)

// Outcome is the result of planning a move against a locked container.
type Outcome struct {
	Moved       Item
	Affected    []Item
	MaxPosition float64
	Strategy    Strategy
}

// Plan decides the moved item's new position. target is the locked target
// container; siblings are its current items in ascending order, excluding the
// moved item; liveMax is the largest position stored in the target.
func Plan(p Policy, target Container, siblings []Item, liveMax float64, moved Item, req MoveRequest) (Outcome, error) {
	if req.AboveID == "" && req.BelowID == "" {
		// An empty foreign container has no neighbors to name.
		if moved.ContainerID == target.ID || len(siblings) > 0 {
			return Outcome{}, invalid("move of %s names neither an item above nor below", moved.ID)
		}
	}
	if req.AboveID == moved.ID || req.BelowID == moved.ID {
		return Outcome{}, invalid("item %s cannot be its own neighbor", moved.ID)
	}
	moved.ContainerID = target.ID

	index := make(map[string]int, len(siblings))
	for i, item := range siblings {
		index[item.ID] = i
	}

	aboveIdx, belowIdx := -1, -1
	if req.AboveID != "" {
		i, ok := index[req.AboveID]
		if !ok {
			return Outcome{}, notFound("item above %s is not in container %s", req.AboveID, target.ID)
		}
		aboveIdx = i
	}
	if req.BelowID != "" {
		i, ok := index[req.BelowID]
		if !ok {
			return Outcome{}, notFound("item below %s is not in container %s", req.BelowID, target.ID)
		}
		belowIdx = i
	}

	var out Outcome
	switch {
	case req.BelowID == "":
		c := target
		moved.Position = p.AppendToEnd(&c, liveMax)
		out = Outcome{Moved: moved, MaxPosition: c.MaxPosition, Strategy: StrategyEnd}

	case req.AboveID == "":
		if belowIdx != 0 {
			return Outcome{}, invariant("item %s is not first in container %s", req.BelowID, target.ID)
		}
		first := siblings[0]
		if p.TopCollision(first) {
			m, renumbered, maxPos := p.RenumberAll(siblings, moved)
			out = Outcome{Moved: m, Affected: renumbered, MaxPosition: maxPos, Strategy: StrategyRenumberAll}
			break
		}
		moved.Position = p.MoveToStart(first)
		out = Outcome{Moved: moved, MaxPosition: math.Max(target.MaxPosition, liveMax), Strategy: StrategyStart}

	default:
		if aboveIdx+1 != belowIdx {
			return Outcome{}, invariant("items %s and %s are not adjacent in container %s", req.AboveID, req.BelowID, target.ID)
		}
		above, below := siblings[aboveIdx], siblings[belowIdx]
		if above.Position == below.Position {
			return Outcome{}, invariant("neighbor items %s and %s have the same position %v", above.ID, below.ID, above.Position)
		}
		maxPos := math.Max(target.MaxPosition, liveMax)
		if p.BetweenCollision(above, below) {
			m, affected, newMax := p.RenumberAfter(siblings, belowIdx, moved, maxPos)
			out = Outcome{Moved: m, Affected: affected, MaxPosition: newMax, Strategy: StrategyRenumberAfter}
			break
		}
		pos, err := p.MoveBetween(above, below)
		if err != nil {
			return Outcome{}, err
		}
		moved.Position = pos
		out = Outcome{Moved: moved, MaxPosition: maxPos, Strategy: StrategyBetween}
	}

	if err := verifyStrictOrder(siblings, out); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// verifyStrictOrder applies the outcome to the siblings and checks that every
// position is distinct and ascending in the intended display order.
func verifyStrictOrder(siblings []Item, out Outcome) error {
	updated := make(map[string]float64, len(out.Affected))
	for _, item := range out.Affected {
		updated[item.ID] = item.Position
	}
	merged := make([]Item, 0, len(siblings)+1)
	for _, item := range siblings {
		if pos, ok := updated[item.ID]; ok {
			item.Position = pos
		}
		merged = append(merged, item)
	}
	merged = append(merged, out.Moved)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Position < merged[j].Position })

	for i := 1; i < len(merged); i++ {
		if merged[i].Position <= merged[i-1].Position {
			return invariant("items %s and %s would share position %v", merged[i-1].ID, merged[i].ID, merged[i].Position)
		}
	}
	if len(merged) > 0 && merged[len(merged)-1].Position > out.MaxPosition {
		return invariant("max position %v is below item %s at %v", out.MaxPosition, merged[len(merged)-1].ID, merged[len(merged)-1].Position)
	}
	if merged[0].Position <= 0 {
		return invariant("item %s would sit at non-positive position %v", merged[0].ID, merged[0].Position)
	}
	return nil
}

// SortItems orders items by position, breaking ties by id so reads are stable.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Position == items[j].Position {
			return items[i].ID < items[j].ID
		}
		return items[i].Position < items[j].Position
	})
}

// Without returns items minus the one with the given id.
func Without(items []Item, id string) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item.ID != id {
			out = append(out, item)
		}
	}
	return out
}
