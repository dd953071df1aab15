package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

const defaultPublishTimeout = 3 * time.Second

// Sequence is the ordering engine for one Kind. T is the entity type stored
// in the sequence; the same code serves lists in projects and tasks in lists.
type Sequence[T any] struct {
	kind           Kind
	policy         Policy
	store          Store[T]
	bus            Bus
	logger         *slog.Logger
	publishTimeout time.Duration
}

func New[T any](kind Kind, policy Policy, store Store[T], bus Bus, logger *slog.Logger) *Sequence[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequence[T]{
		kind:           kind,
		policy:         policy.Normalize(),
		store:          store,
		bus:            bus,
		logger:         logger.With("kind", kind.Item),
		publishTimeout: defaultPublishTimeout,
	}
}

func (s *Sequence[T]) Kind() Kind {
	return s.kind
}

func (s *Sequence[T]) Policy() Policy {
	return s.policy
}

// Items returns the container's items in display order.
func (s *Sequence[T]) Items(ctx context.Context, containerID string) ([]Item, error) {
	items, err := s.store.Items(ctx, containerID)
	if err != nil {
		return nil, err
	}
	SortItems(items)
	return items, nil
}

// Append creates data at the end of the container.
func (s *Sequence[T]) Append(ctx context.Context, containerID string, data T) (T, Item, error) {
	var (
		created T
		item    Item
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx[T]) error {
		containers, err := tx.LockContainers(ctx, containerID)
		if err != nil {
			return err
		}
		container := containers[0]
		liveMax, err := tx.MaxPosition(ctx, containerID)
		if err != nil {
			return err
		}
		position := s.policy.AppendToEnd(&container, liveMax)
		created, item, err = tx.Insert(ctx, containerID, position, data)
		if err != nil {
			return err
		}
		return tx.SaveMaxPosition(ctx, containerID, container.MaxPosition)
	})
	if err != nil {
		var zero T
		return zero, Item{}, err
	}

	s.publish(ctx, s.kind.CreateTopic, ItemEvent[T]{Kind: s.kind.Item, Item: item, ContainerID: containerID, Data: created})
	return created, item, nil
}

// Remove deletes an item and pulls the container's MaxPosition back when the
// item was the last one.
func (s *Sequence[T]) Remove(ctx context.Context, itemID string) (Item, error) {
	var removed Item
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx[T]) error {
		item, err := tx.Item(ctx, itemID)
		if err != nil {
			return err
		}
		containers, err := tx.LockContainers(ctx, item.ContainerID)
		if err != nil {
			return err
		}
		container := containers[0]
		if item, err = s.relockedItem(ctx, tx, itemID, container.ID); err != nil {
			return err
		}
		if err := tx.Delete(ctx, itemID); err != nil {
			return err
		}
		remaining, err := tx.MaxPosition(ctx, container.ID)
		if err != nil {
			return err
		}
		if next := s.policy.ShrinkMax(container, item.Position, remaining); next != container.MaxPosition {
			if err := tx.SaveMaxPosition(ctx, container.ID, next); err != nil {
				return err
			}
		}
		removed = item
		return nil
	})
	if err != nil {
		return Item{}, err
	}

	s.publish(ctx, s.kind.DeleteTopic, ItemEvent[Item]{Kind: s.kind.Item, Item: removed, ContainerID: removed.ContainerID, Data: removed})
	return removed, nil
}

// Reorder moves an item next to the named neighbors, optionally into another
// container, renumbering the neighborhood when positions have converged.
func (s *Sequence[T]) Reorder(ctx context.Context, itemID string, req MoveRequest) (MoveEvent, error) {
	var event MoveEvent
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx[T]) error {
		item, err := tx.Item(ctx, itemID)
		if err != nil {
			return err
		}
		sourceID := item.ContainerID
		targetID := req.TargetContainerID
		if targetID == "" {
			targetID = sourceID
		}

		containers, err := tx.LockContainers(ctx, sourceID, targetID)
		if err != nil {
			return err
		}
		source, _ := findContainer(containers, sourceID)
		target, ok := findContainer(containers, targetID)
		if !ok {
			return notFound("%s %s", s.kind.Container, targetID)
		}
		if item, err = s.relockedItem(ctx, tx, itemID, sourceID); err != nil {
			return err
		}

		targetItems, err := tx.Items(ctx, targetID)
		if err != nil {
			return err
		}
		SortItems(targetItems)
		siblings := Without(targetItems, itemID)

		var sourceRemainingMax float64
		if sourceID != targetID {
			sourceItems, err := tx.Items(ctx, sourceID)
			if err != nil {
				return err
			}
			sourceRemainingMax = maxPositionOf(Without(sourceItems, itemID))
		}

		out, err := Plan(s.policy, target, siblings, maxPositionOf(targetItems), item, req)
		if err != nil {
			return err
		}

		touched := make([]Item, 0, len(out.Affected)+1)
		touched = append(touched, out.Moved)
		touched = append(touched, out.Affected...)
		if err := tx.SavePositions(ctx, touched); err != nil {
			return err
		}
		if out.MaxPosition != target.MaxPosition {
			if err := tx.SaveMaxPosition(ctx, targetID, out.MaxPosition); err != nil {
				return err
			}
		}
		if sourceID != targetID {
			if next := s.policy.ShrinkMax(source, item.Position, sourceRemainingMax); next != source.MaxPosition {
				if err := tx.SaveMaxPosition(ctx, sourceID, next); err != nil {
					return err
				}
			}
		}

		moved := out.Moved
		affected := out.Affected
		if affected == nil {
			affected = []Item{}
		}
		event = MoveEvent{
			Kind:              s.kind.Item,
			Moved:             &moved,
			Affected:          affected,
			SourceContainerID: sourceID,
			TargetContainerID: targetID,
			Strategy:          out.Strategy,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			s.logger.Warn("reorder rejected", "item_id", itemID, "target_container_id", req.TargetContainerID,
				"above_id", req.AboveID, "below_id", req.BelowID, "error", err)
		}
		return MoveEvent{}, err
	}

	s.logger.Debug("reorder committed", "item_id", itemID, "strategy", event.Strategy, "affected", len(event.Affected))
	s.publish(ctx, s.kind.MoveTopic, event)
	return event, nil
}

// Rebalance renumbers a whole container to Gap, 2*Gap, ... keeping the order.
func (s *Sequence[T]) Rebalance(ctx context.Context, containerID string) (MoveEvent, error) {
	var event MoveEvent
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx[T]) error {
		if _, err := tx.LockContainers(ctx, containerID); err != nil {
			return err
		}
		items, err := tx.Items(ctx, containerID)
		if err != nil {
			return err
		}
		SortItems(items)
		changed, maxPos := s.policy.RenumberFrom(items)
		if len(changed) > 0 {
			if err := tx.SavePositions(ctx, changed); err != nil {
				return err
			}
		}
		if err := tx.SaveMaxPosition(ctx, containerID, maxPos); err != nil {
			return err
		}
		event = MoveEvent{
			Kind:              s.kind.Item,
			Affected:          changed,
			SourceContainerID: containerID,
			TargetContainerID: containerID,
			Strategy:          StrategyRebalance,
		}
		return nil
	})
	if err != nil {
		return MoveEvent{}, err
	}
	if len(event.Affected) > 0 {
		s.publish(ctx, s.kind.MoveTopic, event)
	}
	return event, nil
}

// Subscribe streams move events touching containerID until ctx is done.
func (s *Sequence[T]) Subscribe(ctx context.Context, containerID string) (<-chan MoveEvent, error) {
	messages, err := s.bus.Subscribe(ctx, s.kind.MoveTopic)
	if err != nil {
		return nil, err
	}
	out := make(chan MoveEvent, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var event MoveEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				s.logger.Warn("drop malformed move event", "topic", msg.Topic, "error", err)
				continue
			}
			if !event.Touches(containerID) {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// relockedItem re-reads the item once its container is locked; a concurrent
// move that committed in between shows up as a different container.
func (s *Sequence[T]) relockedItem(ctx context.Context, tx Tx[T], itemID, containerID string) (Item, error) {
	item, err := tx.Item(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	if item.ContainerID != containerID {
		return Item{}, invariant("%s %s left %s %s while waiting for its lock", s.kind.Item, itemID, s.kind.Container, containerID)
	}
	return item, nil
}

func (s *Sequence[T]) publish(ctx context.Context, topic string, payload any) {
	if s.bus == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.bus.Publish(publishCtx, topic, payload); err != nil {
		s.logger.Error("publish event failed", "topic", topic, "error", err)
	}
}
