package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger.With("component", "http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.newCORS().Handler(s.withMiddleware(http.HandlerFunc(s.handle)))
}

func (s *HTTPServer) newCORS() *cors.Cors {
	origins := []string{"*"}
	if s.corsOrigin != "" && s.corsOrigin != "*" {
		origins = strings.Split(s.corsOrigin, ",")
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         600,
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "projects":
		s.handleProjects(w, r, session, parts[2:])
	case "lists":
		s.handleLists(w, r, session, parts[2:])
	case "tasks":
		s.handleTasks(w, r, session, parts[2:])
	case "labels":
		s.handleLabels(w, r, session, parts[2:])
	case "teams":
		s.handleTeams(w, r, session, parts[2:])
	case "notifications":
		s.handleNotifications(w, r, session, parts[2:])
	case "subscriptions":
		s.handleSubscriptions(w, r, session, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, ping := range map[string]func(context.Context) error{
		"database": s.service.PingDatabase,
		"redis":    s.service.PingRedis,
	} {
		if err := ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// /api/projects/...
func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			projects, err := s.service.ListProjects(ctx, session)
			s.respond(w, http.StatusOK, map[string]any{"projects": projects}, err)
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				TeamID      string `json:"teamId"`
			}
			if !decodeOrReject(w, r, &body) {
				return
			}
			project, err := s.service.CreateProject(ctx, session, body.Name, body.Description, body.TeamID)
			s.respond(w, http.StatusCreated, project, err)
		default:
			methodNotAllowed(w)
		}
		return
	}

	projectID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetProject(ctx, session, projectID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPut:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if !decodeOrReject(w, r, &body) {
				return
			}
			project, err := s.service.UpdateProject(ctx, session, projectID, body.Name, body.Description)
			s.respond(w, http.StatusOK, project, err)
		case http.MethodDelete:
			err := s.service.DeleteProject(ctx, session, projectID)
			s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "lists":
		switch r.Method {
		case http.MethodGet:
			lists, err := s.service.ListLists(ctx, session, projectID)
			s.respond(w, http.StatusOK, map[string]any{"lists": lists}, err)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if !decodeOrReject(w, r, &body) {
				return
			}
			list, err := s.service.CreateList(ctx, session, projectID, body.Name)
			s.respond(w, http.StatusCreated, list, err)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "labels":
		switch r.Method {
		case http.MethodGet:
			labels, err := s.service.ListLabels(ctx, session, projectID)
			s.respond(w, http.StatusOK, map[string]any{"labels": labels}, err)
		case http.MethodPost:
			var body struct {
				Name  string `json:"name"`
				Color string `json:"color"`
			}
			if !decodeOrReject(w, r, &body) {
				return
			}
			label, err := s.service.CreateLabel(ctx, session, projectID, body.Name, body.Color)
			s.respond(w, http.StatusCreated, label, err)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "invites":
		switch r.Method {
		case http.MethodGet:
			invites, err := s.service.ListInvites(ctx, session, projectID)
			s.respond(w, http.StatusOK, map[string]any{"invites": invites}, err)
		case http.MethodPost:
			var body struct {
				Email string `json:"email"`
			}
			if !decodeOrReject(w, r, &body) {
				return
			}
			invite, err := s.service.CreateInvite(ctx, session, projectID, body.Email)
			s.respond(w, http.StatusCreated, invite, err)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 3 && parts[1] == "invites" && parts[2] == "accept":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Token string `json:"token"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		project, err := s.service.AcceptInvite(ctx, session, projectID, body.Token)
		s.respond(w, http.StatusOK, project, err)

	case len(parts) == 2 && parts[1] == "public-link":
		switch r.Method {
		case http.MethodPost:
			link, err := s.service.PublicProjectLink(ctx, session, projectID)
			s.respond(w, http.StatusOK, link, err)
		case http.MethodDelete:
			err := s.service.RevokePublicProjectLink(ctx, session, projectID)
			s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 3 && parts[1] == "public-link" && parts[2] == "validate":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		project, err := s.service.ValidatePublicProjectLink(ctx, projectID, r.URL.Query().Get("link"))
		s.respond(w, http.StatusOK, map[string]any{"valid": true, "projectId": project.ID, "name": project.Name}, err)

	case len(parts) == 3 && parts[1] == "public-link" && parts[2] == "accept":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Link string `json:"link"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		project, err := s.service.AcceptPublicProjectLink(ctx, session, projectID, body.Link)
		s.respond(w, http.StatusOK, project, err)

	case len(parts) == 2 && parts[1] == "search":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		query, ok := parseSearchQuery(w, r, projectID)
		if !ok {
			return
		}
		resp, err := s.service.SearchTasks(ctx, session, query)
		s.respond(w, http.StatusOK, resp, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/lists/...
func (s *HTTPServer) handleLists(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	listID := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Name string `json:"name"`
			}
			if !decodeOrReject(w, r, &body) {
				return
			}
			list, err := s.service.RenameList(ctx, session, listID, body.Name)
			s.respond(w, http.StatusOK, list, err)
		case http.MethodDelete:
			err := s.service.DeleteList(ctx, session, listID)
			s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "move":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req ordering.MoveRequest
		if !decodeOrReject(w, r, &req) {
			return
		}
		event, err := s.service.MoveList(ctx, session, listID, req)
		s.respond(w, http.StatusOK, event, err)

	case len(parts) == 2 && parts[1] == "tasks":
		switch r.Method {
		case http.MethodGet:
			tasks, err := s.service.ListTasks(ctx, session, listID)
			s.respond(w, http.StatusOK, map[string]any{"tasks": tasks}, err)
		case http.MethodPost:
			var body CreateTaskInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			task, err := s.service.CreateTask(ctx, session, listID, body)
			s.respond(w, http.StatusCreated, task, err)
		default:
			methodNotAllowed(w)
		}

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/tasks/...
func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	taskID := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			task, err := s.service.GetTask(ctx, session, taskID)
			s.respond(w, http.StatusOK, task, err)
		case http.MethodPut:
			var body UpdateTaskInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			task, err := s.service.UpdateTask(ctx, session, taskID, body)
			s.respond(w, http.StatusOK, task, err)
		case http.MethodDelete:
			err := s.service.DeleteTask(ctx, session, taskID)
			s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "move":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req ordering.MoveRequest
		if !decodeOrReject(w, r, &req) {
			return
		}
		event, err := s.service.MoveTask(ctx, session, taskID, req)
		s.respond(w, http.StatusOK, event, err)

	case len(parts) == 3 && parts[1] == "members":
		userID := parts[2]
		switch r.Method {
		case http.MethodPost:
			task, err := s.service.AddTaskMember(ctx, session, taskID, userID)
			s.respond(w, http.StatusOK, task, err)
		case http.MethodDelete:
			task, err := s.service.RemoveTaskMember(ctx, session, taskID, userID)
			s.respond(w, http.StatusOK, task, err)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 3 && parts[1] == "labels":
		labelID := parts[2]
		switch r.Method {
		case http.MethodPost:
			task, err := s.service.AssignLabel(ctx, session, taskID, labelID)
			s.respond(w, http.StatusOK, task, err)
		case http.MethodDelete:
			task, err := s.service.RemoveLabel(ctx, session, taskID, labelID)
			s.respond(w, http.StatusOK, task, err)
		default:
			methodNotAllowed(w)
		}

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/labels/{id}
func (s *HTTPServer) handleLabels(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		label, err := s.service.UpdateLabel(ctx, session, parts[0], body.Name, body.Color)
		s.respond(w, http.StatusOK, label, err)
	case http.MethodDelete:
		err := s.service.DeleteLabel(ctx, session, parts[0])
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
	default:
		methodNotAllowed(w)
	}
}

// /api/teams/...
func (s *HTTPServer) handleTeams(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			teams, err := s.service.ListTeams(ctx, session)
			s.respond(w, http.StatusOK, map[string]any{"teams": teams}, err)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if !decodeOrReject(w, r, &body) {
				return
			}
			team, err := s.service.CreateTeam(ctx, session, body.Name)
			s.respond(w, http.StatusCreated, team, err)
		default:
			methodNotAllowed(w)
		}
		return
	}

	teamID := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetTeam(ctx, session, teamID)
			s.respond(w, http.StatusOK, payload, err)
		case http.MethodPut:
			var body struct {
				Name string `json:"name"`
			}
			if !decodeOrReject(w, r, &body) {
				return
			}
			team, err := s.service.RenameTeam(ctx, session, teamID, body.Name)
			s.respond(w, http.StatusOK, team, err)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 3 && parts[1] == "members":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		err := s.service.RemoveTeamMember(ctx, session, teamID, parts[2])
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)

	case len(parts) == 3 && parts[1] == "projects":
		switch r.Method {
		case http.MethodPut:
			project, err := s.service.AddTeamProject(ctx, session, teamID, parts[2])
			s.respond(w, http.StatusOK, project, err)
		case http.MethodDelete:
			project, err := s.service.RemoveTeamProject(ctx, session, teamID, parts[2])
			s.respond(w, http.StatusOK, project, err)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "invites":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Email string `json:"email"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		invite, err := s.service.CreateTeamInvite(ctx, session, teamID, body.Email)
		s.respond(w, http.StatusCreated, invite, err)

	case len(parts) == 3 && parts[1] == "invites" && parts[2] == "accept":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Token string `json:"token"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		team, err := s.service.AcceptTeamInvite(ctx, session, teamID, body.Token)
		s.respond(w, http.StatusOK, team, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/notifications/...
func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		notifications, err := s.service.ListNotifications(ctx, session, limit)
		s.respond(w, http.StatusOK, map[string]any{"notifications": notifications}, err)
	case len(parts) == 2 && parts[1] == "read" && r.Method == http.MethodPost:
		notification, err := s.service.MarkNotificationRead(ctx, session, parts[0])
		s.respond(w, http.StatusOK, notification, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		err := s.service.RemoveNotification(ctx, session, parts[0])
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
	case len(parts) <= 2:
		methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/subscriptions/{lists|tasks|notifications}
func (s *HTTPServer) handleSubscriptions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := r.URL.Query()
	switch parts[0] {
	case "lists":
		projectID := strings.TrimSpace(query.Get("projectId"))
		if projectID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId is required", nil)
			return
		}
		s.serveStream(w, r, func(ctx context.Context) (<-chan StreamEvent, error) {
			return s.service.SubscribeLists(ctx, session, projectID)
		})
	case "tasks":
		listID := strings.TrimSpace(query.Get("listId"))
		if listID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "listId is required", nil)
			return
		}
		s.serveStream(w, r, func(ctx context.Context) (<-chan StreamEvent, error) {
			return s.service.SubscribeTasks(ctx, session, listID)
		})
	case "notifications":
		s.serveStream(w, r, func(ctx context.Context) (<-chan StreamEvent, error) {
			return s.service.SubscribeNotifications(ctx, session)
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func parseSearchQuery(w http.ResponseWriter, r *http.Request, projectID string) (search.Query, bool) {
	values := r.URL.Query()
	q := search.Query{
		Text:      strings.TrimSpace(values.Get("q")),
		ProjectID: projectID,
		ListID:    strings.TrimSpace(values.Get("listId")),
	}
	for _, field := range []struct {
		name   string
		target *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}} {
		raw := strings.TrimSpace(values.Get(field.name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", field.name+" must be an integer", nil)
			return search.Query{}, false
		}
		*field.target = parsed
	}
	return q, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// respond writes payload on success and the mapped error otherwise.
func (s *HTTPServer) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("request failed", "code", code, "error", err)
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeOrReject(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket upgrades, so subscriptions may pass access_token instead.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if strings.HasPrefix(r.URL.Path, "/api/subscriptions/") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// originHost reduces a configured origin such as https://app.example.com to
// the host pattern websocket origin checks expect.
func originHost(origin string) string {
	if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return origin
}
