package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/kv"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
)

// TopicNotification carries notifications to live subscribers.
const TopicNotification = "CREATE_NOTIFICATION"

const publishTimeout = 3 * time.Second

type Session struct {
	UserID   string
	UserName string
	Email    string
}

type CreateTaskInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
}

type UpdateTaskInput struct {
	Name         *string    `json:"name"`
	Description  *string    `json:"description"`
	DueDate      *time.Time `json:"dueDate"`
	ClearDueDate bool       `json:"clearDueDate"`
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUser(context.Context, string, string) (store.User, error)
	GetUser(context.Context, string) (store.User, error)
	CreateProject(context.Context, store.Project) (store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	ListProjectsForUser(context.Context, string) ([]store.Project, error)
	UpdateProject(context.Context, string, string, string) (store.Project, error)
	DeleteProject(context.Context, string) error
	AddProjectMember(context.Context, string, string, string) error
	ProjectRole(context.Context, string, string) (string, error)
	ListProjectMembers(context.Context, string) ([]store.Member, error)
	GetList(context.Context, string) (store.List, error)
	ListLists(context.Context, string) ([]store.List, error)
	RenameList(context.Context, string, string) (store.List, error)
	GetTask(context.Context, string) (store.Task, error)
	ListTasks(context.Context, string) ([]store.Task, error)
	UpdateTask(context.Context, string, store.TaskPatch) (store.Task, error)
	AddTaskMember(context.Context, string, string) error
	RemoveTaskMember(context.Context, string, string) error
	CreateLabel(context.Context, store.Label) (store.Label, error)
	GetLabel(context.Context, string) (store.Label, error)
	ListLabels(context.Context, string) ([]store.Label, error)
	UpdateLabel(context.Context, string, string, string) (store.Label, error)
	DeleteLabel(context.Context, string) error
	AssignLabel(context.Context, string, string) error
	RemoveLabel(context.Context, string, string) error
	CreateTeam(context.Context, store.Team) (store.Team, error)
	GetTeam(context.Context, string) (store.Team, error)
	ListTeamsForUser(context.Context, string) ([]store.Team, error)
	RenameTeam(context.Context, string, string) (store.Team, error)
	TeamRole(context.Context, string, string) (string, error)
	ListTeamMembers(context.Context, string) ([]store.TeamMember, error)
	AddTeamMember(context.Context, string, string, string) error
	RemoveTeamMember(context.Context, string, string) error
	ListTeamProjects(context.Context, string) ([]store.Project, error)
	SetProjectTeam(context.Context, string, string) (store.Project, error)
}

type ephemeralStore interface {
	Ping(context.Context) error
	CreateProjectInvite(context.Context, string, string, string, time.Duration) (kv.ProjectInvite, error)
	ListProjectInvites(context.Context, string) ([]kv.ProjectInvite, error)
	AcceptProjectInvite(context.Context, string, string) (kv.ProjectInvite, error)
	CreateTeamInvite(context.Context, string, string, string, time.Duration) (kv.TeamInvite, error)
	AcceptTeamInvite(context.Context, string, string, string) (kv.TeamInvite, error)
	PublicProjectLink(context.Context, string, time.Duration) (kv.PublicLink, error)
	CheckPublicProjectLink(context.Context, string, string) error
	RevokePublicProjectLink(context.Context, string) error
	Allow(context.Context, string, int, time.Duration) (bool, error)
	PushNotification(context.Context, kv.Notification) (kv.Notification, error)
	ListNotifications(context.Context, string, int) ([]kv.Notification, error)
	MarkNotificationRead(context.Context, string, string) (kv.Notification, error)
	RemoveNotification(context.Context, string, string) error
}

// sequence is the part of ordering.Sequence the service drives.
type sequence[T any] interface {
	Items(context.Context, string) ([]ordering.Item, error)
	Append(context.Context, string, T) (T, ordering.Item, error)
	Remove(context.Context, string) (ordering.Item, error)
	Reorder(context.Context, string, ordering.MoveRequest) (ordering.MoveEvent, error)
	Subscribe(context.Context, string) (<-chan ordering.MoveEvent, error)
}

type taskSearcher interface {
	Search(search.Query) search.Response
	IndexTask(search.TaskRecord)
	DeleteTask(string)
}

type inviteMailer interface {
	IsConfigured() bool
	SendProjectInvite(email.ProjectInvite) error
	SendTeamInvite(email.TeamInvite) error
}

// Dependencies groups the collaborators a Service is built from.
type Dependencies struct {
	Store  dataStore
	KV     ephemeralStore
	Lists  sequence[store.List]
	Tasks  sequence[store.Task]
	Search taskSearcher
	Bus    ordering.Bus
	Mailer inviteMailer
	Logger *slog.Logger
}

type Service struct {
	cfg    config.Config
	store  dataStore
	kv     ephemeralStore
	lists  sequence[store.List]
	tasks  sequence[store.Task]
	search taskSearcher
	bus    ordering.Bus
	mailer inviteMailer
	logger *slog.Logger
}

func New(cfg config.Config, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		store:  deps.Store,
		kv:     deps.KV,
		lists:  deps.Lists,
		tasks:  deps.Tasks,
		search: deps.Search,
		bus:    deps.Bus,
		mailer: deps.Mailer,
		logger: logger,
	}
}

var labelColorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// SessionFromToken resolves a bearer token to a known user.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, claims.UserID())
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: unknown user %s", auth.ErrInvalidToken, claims.UserID())
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session user: %w", err)
	}
	return Session{UserID: user.ID, UserName: user.DisplayName, Email: user.Email}, nil
}

// IssueToken creates the user when needed and signs an access token for it.
func (s *Service) IssueToken(ctx context.Context, email, displayName string) (string, store.User, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return "", store.User{}, validationError("a valid email is required")
	}
	user, err := s.store.EnsureUser(ctx, email, strings.TrimSpace(displayName))
	if err != nil {
		return "", store.User{}, err
	}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Email, s.cfg.AccessTTL)
	if err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

func (s *Service) PingDatabase(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingRedis(ctx context.Context) error {
	if s.kv == nil {
		return errors.New("redis is not configured")
	}
	return s.kv.Ping(ctx)
}

// authorize returns 404 for non-members so that project ids do not leak.
func (s *Service) authorize(ctx context.Context, session Session, projectID string, action rbac.Action) error {
	role, err := s.store.ProjectRole(ctx, projectID, session.UserID)
	if err != nil {
		return err
	}
	normalized := rbac.Normalize(role)
	if normalized == "" {
		return errProjectNotFound
	}
	if !rbac.Can(normalized, action) {
		return errForbidden
	}
	return nil
}

// Projects

// CreateProject creates a project owned by the caller. A non-empty teamID
// places it in that team, which the caller must belong to.
func (s *Service) CreateProject(ctx context.Context, session Session, name, description, teamID string) (store.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Project{}, validationError("name is required")
	}
	teamID = strings.TrimSpace(teamID)
	if teamID != "" {
		if err := s.authorizeTeam(ctx, session, teamID, rbac.ActionWrite); err != nil {
			return store.Project{}, err
		}
	}
	project, err := s.store.CreateProject(ctx, store.Project{
		Name:        name,
		Description: strings.TrimSpace(description),
		OwnerID:     session.UserID,
		TeamID:      teamID,
	})
	if err != nil {
		return store.Project{}, err
	}
	s.notify(ctx, session.UserID, "PROJECT_CREATED", project.ID, fmt.Sprintf("Project %q created", project.Name))
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"project": project, "members": members}, nil
}

func (s *Service) ListProjects(ctx context.Context, session Session) ([]store.Project, error) {
	return s.store.ListProjectsForUser(ctx, session.UserID)
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID, name, description string) (store.Project, error) {
	if err := s.authorize(ctx, session, projectID, rbac.ActionManage); err != nil {
		return store.Project{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Project{}, validationError("name is required")
	}
	return s.store.UpdateProject(ctx, projectID, name, strings.TrimSpace(description))
}

func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	if err := s.authorize(ctx, session, projectID, rbac.ActionManage); err != nil {
		return err
	}
	taskIDs, err := s.projectTaskIDs(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	for _, id := range taskIDs {
		s.deindexTask(id)
	}
	s.notify(ctx, session.UserID, "PROJECT_DELETED", projectID, "Project deleted")
	return nil
}

func (s *Service) projectTaskIDs(ctx context.Context, projectID string) ([]string, error) {
	lists, err := s.store.ListLists(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, list := range lists {
		tasks, err := s.store.ListTasks(ctx, list.ID)
		if err != nil {
			return nil, err
		}
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
	}
	return ids, nil
}

// Lists

func (s *Service) ListLists(ctx context.Context, session Session, projectID string) ([]store.List, error) {
	if err := s.authorize(ctx, session, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	items, err := s.lists.Items(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListLists(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return orderLike(items, rows, func(l store.List) string { return l.ID }), nil
}

func (s *Service) CreateList(ctx context.Context, session Session, projectID, name string) (store.List, error) {
	if err := s.authorize(ctx, session, projectID, rbac.ActionWrite); err != nil {
		return store.List{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.List{}, validationError("name is required")
	}
	list, _, err := s.lists.Append(ctx, projectID, store.List{Name: name})
	if err != nil {
		return store.List{}, err
	}
	s.notify(ctx, session.UserID, "LIST_CREATED", projectID, fmt.Sprintf("List %q created", list.Name))
	return list, nil
}

func (s *Service) RenameList(ctx context.Context, session Session, listID, name string) (store.List, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return store.List{}, err
	}
	if err := s.authorize(ctx, session, list.ProjectID, rbac.ActionWrite); err != nil {
		return store.List{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.List{}, validationError("name is required")
	}
	return s.store.RenameList(ctx, listID, name)
}

func (s *Service) DeleteList(ctx context.Context, session Session, listID string) error {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, session, list.ProjectID, rbac.ActionWrite); err != nil {
		return err
	}
	tasks, err := s.store.ListTasks(ctx, listID)
	if err != nil {
		return err
	}
	if _, err := s.lists.Remove(ctx, listID); err != nil {
		return err
	}
	for _, task := range tasks {
		s.deindexTask(task.ID)
	}
	s.notify(ctx, session.UserID, "LIST_DELETED", list.ProjectID, fmt.Sprintf("List %q deleted", list.Name))
	return nil
}

// MoveList reorders a list within its project.
func (s *Service) MoveList(ctx context.Context, session Session, listID string, req ordering.MoveRequest) (ordering.MoveEvent, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return ordering.MoveEvent{}, err
	}
	if err := s.authorize(ctx, session, list.ProjectID, rbac.ActionWrite); err != nil {
		return ordering.MoveEvent{}, err
	}
	if req.TargetContainerID != "" && req.TargetContainerID != list.ProjectID {
		return ordering.MoveEvent{}, fmt.Errorf("%w: lists cannot move to another project", ordering.ErrInvalidRequest)
	}
	req.TargetContainerID = ""
	return s.lists.Reorder(ctx, listID, req)
}

// Tasks

func (s *Service) ListTasks(ctx context.Context, session Session, listID string) ([]store.Task, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, session, list.ProjectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	items, err := s.tasks.Items(ctx, listID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListTasks(ctx, listID)
	if err != nil {
		return nil, err
	}
	return orderLike(items, rows, func(t store.Task) string { return t.ID }), nil
}

func (s *Service) CreateTask(ctx context.Context, session Session, listID string, input CreateTaskInput) (store.Task, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorize(ctx, session, list.ProjectID, rbac.ActionWrite); err != nil {
		return store.Task{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Task{}, validationError("name is required")
	}
	task, _, err := s.tasks.Append(ctx, listID, store.Task{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		DueDate:     input.DueDate,
		CreatedBy:   session.UserID,
	})
	if err != nil {
		return store.Task{}, err
	}
	s.indexTask(task)
	s.notify(ctx, session.UserID, "TASK_CREATED", list.ProjectID, fmt.Sprintf("Task %q created in %q", task.Name, list.Name))
	return task, nil
}

func (s *Service) GetTask(ctx context.Context, session Session, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorize(ctx, session, task.ProjectID, rbac.ActionRead); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, input UpdateTaskInput) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorize(ctx, session, task.ProjectID, rbac.ActionWrite); err != nil {
		return store.Task{}, err
	}
	patch := store.TaskPatch{Description: input.Description, DueDate: input.DueDate, ClearDue: input.ClearDueDate}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return store.Task{}, validationError("name cannot be empty")
		}
		patch.Name = &name
	}
	updated, err := s.store.UpdateTask(ctx, taskID, patch)
	if err != nil {
		return store.Task{}, err
	}
	s.indexTask(updated)
	return updated, nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, session, task.ProjectID, rbac.ActionWrite); err != nil {
		return err
	}
	if _, err := s.tasks.Remove(ctx, taskID); err != nil {
		return err
	}
	s.deindexTask(taskID)
	s.notify(ctx, session.UserID, "TASK_DELETED", task.ProjectID, fmt.Sprintf("Task %q deleted", task.Name))
	return nil
}

// MoveTask reorders a task, possibly into another list of the same project.
func (s *Service) MoveTask(ctx context.Context, session Session, taskID string, req ordering.MoveRequest) (ordering.MoveEvent, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return ordering.MoveEvent{}, err
	}
	if err := s.authorize(ctx, session, task.ProjectID, rbac.ActionWrite); err != nil {
		return ordering.MoveEvent{}, err
	}
	if req.TargetContainerID == task.ListID {
		req.TargetContainerID = ""
	}
	if req.TargetContainerID != "" {
		target, err := s.store.GetList(ctx, req.TargetContainerID)
		if err != nil {
			return ordering.MoveEvent{}, err
		}
		if target.ProjectID != task.ProjectID {
			return ordering.MoveEvent{}, fmt.Errorf("%w: tasks can only move between lists of the same project", ordering.ErrInvalidRequest)
		}
	}
	event, err := s.tasks.Reorder(ctx, taskID, req)
	if err != nil {
		return ordering.MoveEvent{}, err
	}
	if event.SourceContainerID != event.TargetContainerID {
		task.ListID = event.TargetContainerID
		if event.Moved != nil {
			task.Position = event.Moved.Position
		}
		s.indexTask(task)
		s.notify(ctx, session.UserID, "TASK_MOVED", task.ProjectID, fmt.Sprintf("Task %q moved to another list", task.Name))
	}
	return event, nil
}

func (s *Service) AddTaskMember(ctx context.Context, session Session, taskID, userID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorize(ctx, session, task.ProjectID, rbac.ActionWrite); err != nil {
		return store.Task{}, err
	}
	role, err := s.store.ProjectRole(ctx, task.ProjectID, userID)
	if err != nil {
		return store.Task{}, err
	}
	if role == "" {
		return store.Task{}, validationError("user is not a member of the project")
	}
	if err := s.store.AddTaskMember(ctx, taskID, userID); err != nil {
		return store.Task{}, err
	}
	if userID != session.UserID {
		s.notify(ctx, userID, "TASK_ASSIGNED", task.ProjectID, fmt.Sprintf("%s assigned you to %q", session.UserName, task.Name))
	}
	return s.store.GetTask(ctx, taskID)
}

func (s *Service) RemoveTaskMember(ctx context.Context, session Session, taskID, userID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorize(ctx, session, task.ProjectID, rbac.ActionWrite); err != nil {
		return store.Task{}, err
	}
	if err := s.store.RemoveTaskMember(ctx, taskID, userID); err != nil {
		return store.Task{}, err
	}
	return s.store.GetTask(ctx, taskID)
}

// Labels

func (s *Service) ListLabels(ctx context.Context, session Session, projectID string) ([]store.Label, error) {
	if err := s.authorize(ctx, session, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListLabels(ctx, projectID)
}

func (s *Service) CreateLabel(ctx context.Context, session Session, projectID, name, color string) (store.Label, error) {
	if err := s.authorize(ctx, session, projectID, rbac.ActionWrite); err != nil {
		return store.Label{}, err
	}
	name, color, err := validateLabel(name, color)
	if err != nil {
		return store.Label{}, err
	}
	return s.store.CreateLabel(ctx, store.Label{ProjectID: projectID, Name: name, Color: color})
}

func (s *Service) UpdateLabel(ctx context.Context, session Session, labelID, name, color string) (store.Label, error) {
	label, err := s.store.GetLabel(ctx, labelID)
	if err != nil {
		return store.Label{}, err
	}
	if err := s.authorize(ctx, session, label.ProjectID, rbac.ActionWrite); err != nil {
		return store.Label{}, err
	}
	name, color, err = validateLabel(name, color)
	if err != nil {
		return store.Label{}, err
	}
	return s.store.UpdateLabel(ctx, labelID, name, color)
}

func (s *Service) DeleteLabel(ctx context.Context, session Session, labelID string) error {
	label, err := s.store.GetLabel(ctx, labelID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, session, label.ProjectID, rbac.ActionWrite); err != nil {
		return err
	}
	return s.store.DeleteLabel(ctx, labelID)
}

func (s *Service) AssignLabel(ctx context.Context, session Session, taskID, labelID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorize(ctx, session, task.ProjectID, rbac.ActionWrite); err != nil {
		return store.Task{}, err
	}
	if err := s.store.AssignLabel(ctx, taskID, labelID); err != nil {
		return store.Task{}, err
	}
	return s.store.GetTask(ctx, taskID)
}

func (s *Service) RemoveLabel(ctx context.Context, session Session, taskID, labelID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorize(ctx, session, task.ProjectID, rbac.ActionWrite); err != nil {
		return store.Task{}, err
	}
	if err := s.store.RemoveLabel(ctx, taskID, labelID); err != nil {
		return store.Task{}, err
	}
	return s.store.GetTask(ctx, taskID)
}

func validateLabel(name, color string) (string, string, error) {
	name = strings.TrimSpace(name)
	color = strings.TrimSpace(color)
	if name == "" {
		return "", "", validationError("name is required")
	}
	if !labelColorPattern.MatchString(color) {
		return "", "", validationError("color must be a hex value such as #ff8800")
	}
	return name, strings.ToLower(color), nil
}

// Invites

func (s *Service) CreateInvite(ctx context.Context, session Session, projectID, email string) (kv.ProjectInvite, error) {
	if err := s.authorize(ctx, session, projectID, rbac.ActionInvite); err != nil {
		return kv.ProjectInvite{}, err
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return kv.ProjectInvite{}, validationError("a valid email is required")
	}
	if err := s.allowInvite(ctx, session); err != nil {
		return kv.ProjectInvite{}, err
	}
	invite, err := s.kv.CreateProjectInvite(ctx, projectID, addr.Address, session.UserID, s.cfg.InviteTTL)
	if err != nil {
		return kv.ProjectInvite{}, err
	}
	s.mailInvite(ctx, session, invite)
	return invite, nil
}

// allowInvite counts one invite against the caller's hourly budget, shared by
// project and team invites.
func (s *Service) allowInvite(ctx context.Context, session Session) error {
	allowed, err := s.kv.Allow(ctx, "invite-rate-"+session.UserID, s.cfg.InviteRateLimit, time.Hour)
	if err != nil {
		return err
	}
	if !allowed {
		return domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many invites, try again later", nil)
	}
	return nil
}

// mailInvite emails the invite link when mail is configured. The invite stays
// valid when sending fails; the inviter can share the token directly.
func (s *Service) mailInvite(ctx context.Context, session Session, invite kv.ProjectInvite) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	project, err := s.store.GetProject(ctx, invite.ProjectID)
	if err != nil {
		s.logger.Warn("load project for invite mail failed", "project_id", invite.ProjectID, "error", err)
		return
	}
	err = s.mailer.SendProjectInvite(email.ProjectInvite{
		To:          invite.Email,
		SenderName:  session.UserName,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Token:       invite.Token,
		ExpiresAt:   invite.ExpiresAt,
	})
	if err != nil {
		s.logger.Warn("send invite mail failed", "project_id", invite.ProjectID, "error", err)
	}
}

func (s *Service) ListInvites(ctx context.Context, session Session, projectID string) ([]kv.ProjectInvite, error) {
	if err := s.authorize(ctx, session, projectID, rbac.ActionInvite); err != nil {
		return nil, err
	}
	return s.kv.ListProjectInvites(ctx, projectID)
}

// AcceptInvite consumes the invite token and adds the caller as a member.
func (s *Service) AcceptInvite(ctx context.Context, session Session, projectID, token string) (store.Project, error) {
	if strings.TrimSpace(token) == "" {
		return store.Project{}, validationError("token is required")
	}
	invite, err := s.kv.AcceptProjectInvite(ctx, token, session.Email)
	if err != nil {
		return store.Project{}, err
	}
	if invite.ProjectID != projectID {
		return store.Project{}, errProjectNotFound
	}
	if err := s.store.AddProjectMember(ctx, projectID, session.UserID, string(rbac.RoleMember)); err != nil {
		return store.Project{}, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if invite.InvitedBy != "" && invite.InvitedBy != session.UserID {
		s.notify(ctx, invite.InvitedBy, "INVITE_ACCEPTED", projectID, fmt.Sprintf("%s joined %q", session.UserName, project.Name))
	}
	return project, nil
}

// Notifications

func (s *Service) ListNotifications(ctx context.Context, session Session, limit int) ([]kv.Notification, error) {
	if limit <= 0 {
		limit = kv.DefaultNotificationLimit
	}
	return s.kv.ListNotifications(ctx, session.UserID, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, id string) (kv.Notification, error) {
	return s.kv.MarkNotificationRead(ctx, session.UserID, id)
}

func (s *Service) RemoveNotification(ctx context.Context, session Session, id string) error {
	return s.kv.RemoveNotification(ctx, session.UserID, id)
}

// notify records a notification and publishes it; failures are only logged.
func (s *Service) notify(ctx context.Context, userID, kind, projectID, message string) {
	if s.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	n, err := s.kv.PushNotification(ctx, kv.Notification{
		UserID:    userID,
		Type:      kind,
		ProjectID: projectID,
		Message:   message,
	})
	if err != nil {
		s.logger.Warn("record notification failed", "user_id", userID, "type", kind, "error", err)
		return
	}
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, TopicNotification, n); err != nil {
		s.logger.Warn("publish notification failed", "user_id", userID, "type", kind, "error", err)
	}
}

// Search

func (s *Service) SearchTasks(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if err := s.authorize(ctx, session, q.ProjectID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

func (s *Service) indexTask(task store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:          task.ID,
		ProjectID:   task.ProjectID,
		ListID:      task.ListID,
		Name:        task.Name,
		Description: task.Description,
		Position:    task.Position,
	})
}

func (s *Service) deindexTask(id string) {
	if s.search == nil {
		return
	}
	s.search.DeleteTask(id)
}

// orderLike returns rows in the order of items. Rows without an item (rows
// created after items were read) go last in their stored order.
func orderLike[T any](items []ordering.Item, rows []T, id func(T) string) []T {
	rank := make(map[string]int, len(items))
	for i, item := range items {
		rank[item.ID] = i
	}
	ordered := make([]T, len(items))
	filled := make([]bool, len(items))
	var extra []T
	for _, row := range rows {
		if i, ok := rank[id(row)]; ok {
			ordered[i] = row
			filled[i] = true
			continue
		}
		extra = append(extra, row)
	}
	out := make([]T, 0, len(rows))
	for i, row := range ordered {
		if filled[i] {
			out = append(out, row)
		}
	}
	return append(out, extra...)
}
