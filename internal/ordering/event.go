package ordering

import (
	"context"

	"taskboard/api/internal/pubsub"
)

// Kind describes one instantiation of the engine: which entity is ordered
// inside which container, and which topics carry its events.
type Kind struct {
	Item        string
	Container   string
	MoveTopic   string
	CreateTopic string
	DeleteTopic string
}

var (
	ListsInProjects = Kind{
		Item:        "list",
		Container:   "project",
		MoveTopic:   "MOVE_LIST",
		CreateTopic: "CREATE_LIST",
		DeleteTopic: "DELETE_LIST",
	}
	TasksInLists = Kind{
		Item:        "task",
		Container:   "list",
		MoveTopic:   "MOVE_TASK",
		CreateTopic: "CREATE_TASK",
		DeleteTopic: "DELETE_TASK",
	}
)

// MoveEvent is published once per successful reorder. Subscribers match on
// either container id so a client watching the source sees items leave.
// Moved is nil for a full rebalance.
type MoveEvent struct {
	Kind              string   `json:"kind"`
	Moved             *Item    `json:"movedItem"`
	Affected          []Item   `json:"affectedItems"`
	SourceContainerID string   `json:"sourceContainerId"`
	TargetContainerID string   `json:"targetContainerId"`
	Strategy          Strategy `json:"strategy,omitempty"`
}

// Touches reports whether the event concerns the given container.
func (e MoveEvent) Touches(containerID string) bool {
	return e.SourceContainerID == containerID || e.TargetContainerID == containerID
}

// ItemEvent is published when an item is appended to or removed from a container.
type ItemEvent[T any] struct {
	Kind        string `json:"kind"`
	Item        Item   `json:"item"`
	ContainerID string `json:"containerId"`
	Data        T      `json:"data"`
}

// Bus is the slice of the publish/subscribe bus the engine needs.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string) (<-chan pubsub.Message, error)
}
