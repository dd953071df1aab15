package ordering

import "context"

// Tx is a store transaction scoped to one Kind. T is the full entity row
// (a list or a task) the caller creates through Insert.
//
// LockContainers must take exclusive row locks in ascending id order and
// return the containers in that order; missing ids are ErrNotFound. Reads
// after the lock observe every reorder that committed before it.
type Tx[T any] interface {
	Item(ctx context.Context, id string) (Item, error)
	LockContainers(ctx context.Context, ids ...string) ([]Container, error)
	Items(ctx context.Context, containerID string) ([]Item, error)
	MaxPosition(ctx context.Context, containerID string) (float64, error)
	SavePositions(ctx context.Context, items []Item) error
	SaveMaxPosition(ctx context.Context, containerID string, maxPosition float64) error
	Insert(ctx context.Context, containerID string, position float64, data T) (T, Item, error)
	Delete(ctx context.Context, id string) error
}

// Store runs transactions. InTx commits when fn returns nil and rolls back
// otherwise, so no partial position update is ever visible.
type Store[T any] interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx[T]) error) error
	Items(ctx context.Context, containerID string) ([]Item, error)
}

func maxPositionOf(items []Item) float64 {
	maxPos := 0.0
	for _, item := range items {
		if item.Position > maxPos {
			maxPos = item.Position
		}
	}
	return maxPos
}

func findContainer(containers []Container, id string) (Container, bool) {
	for _, c := range containers {
		if c.ID == id {
			return c, true
		}
	}
	return Container{}, false
}
