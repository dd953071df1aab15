package store

import "time"

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"ownerId"`
	// TeamID is empty for projects outside any team.
	TeamID string `json:"teamId,omitempty"`
	// MaxPosition is the append hint for the project's lists.
	MaxPosition float64   `json:"maxPosition"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TeamMember struct {
	TeamID      string `json:"teamId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

type Member struct {
	ProjectID   string `json:"projectId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

type List struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"projectId"`
	Name      string  `json:"name"`
	Position  float64 `json:"position"`
	// MaxPosition is the append hint for the list's tasks.
	MaxPosition float64   `json:"maxPosition"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Task struct {
	ID          string     `json:"id"`
	ListID      string     `json:"listId"`
	ProjectID   string     `json:"projectId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	Position    float64    `json:"position"`
	CreatedBy   string     `json:"createdBy"`
	MemberIDs   []string   `json:"memberIds"`
	LabelIDs    []string   `json:"labelIds"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Label struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

// TaskPatch carries the fields of an update; nil leaves a field unchanged.
type TaskPatch struct {
	Name        *string
	Description *string
	DueDate     *time.Time
	ClearDue    bool
}
