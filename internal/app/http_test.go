package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"taskboard/api/internal/ordering"
	"taskboard/api/internal/store"
)

func newTestServer(t *testing.T) (*testEnv, http.Handler) {
	t.Helper()
	env := newTestEnv(t)
	return env, NewHTTPServer(env.service, "*", nil).Handler()
}

func tokenFor(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	token, _, err := env.service.IssueToken(context.Background(), email, "")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	payload := map[string]any{}
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return rr, payload
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := newTestServer(t)
	rr, payload := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("unexpected health response %d %v", rr.Code, payload)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestReadyReportsFailingDependency(t *testing.T) {
	env, handler := newTestServer(t)

	rr, payload := doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK || payload["status"] != "ready" {
		t.Fatalf("expected ready, got %d %v", rr.Code, payload)
	}

	env.store.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr, payload = doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	checks := payload["checks"].(map[string]any)
	if checks["database"].(map[string]any)["status"] != "error" || checks["redis"].(map[string]any)["status"] != "ok" {
		t.Fatalf("unexpected checks %v", checks)
	}
}

func TestRequestsRequireToken(t *testing.T) {
	env, handler := newTestServer(t)

	for _, token := range []string{"", "not-a-jwt"} {
		rr, payload := doRequest(t, handler, http.MethodGet, "/api/projects", token, nil)
		if rr.Code != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
			t.Fatalf("token %q: expected 401, got %d %v", token, rr.Code, payload)
		}
	}

	rr, _ := doRequest(t, handler, http.MethodGet, "/api/projects", tokenFor(t, env, "member@example.com"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
}

func TestProjectVisibility(t *testing.T) {
	env, handler := newTestServer(t)
	outsiderToken := tokenFor(t, env, "outsider@example.com")
	memberToken := tokenFor(t, env, "member@example.com")

	rr, payload := doRequest(t, handler, http.MethodGet, "/api/projects/prj_1", outsiderToken, nil)
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 for non-member, got %d %v", rr.Code, payload)
	}

	rr, _ = doRequest(t, handler, http.MethodGet, "/api/projects/prj_1", memberToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for member, got %d", rr.Code)
	}

	rr, payload = doRequest(t, handler, http.MethodDelete, "/api/projects/prj_1", memberToken, nil)
	if rr.Code != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403 for member delete, got %d %v", rr.Code, payload)
	}
}

func TestCreateListAndTask(t *testing.T) {
	env, handler := newTestServer(t)
	token := tokenFor(t, env, "member@example.com")

	env.lists.appendFn = func(_ context.Context, projectID string, list store.List) (store.List, ordering.Item, error) {
		list.ID = "lst_new"
		list.ProjectID = projectID
		list.Position = 49152
		env.store.lists[list.ID] = list
		return list, ordering.Item{ID: list.ID, ContainerID: projectID, Position: list.Position}, nil
	}
	env.tasks.appendFn = func(_ context.Context, listID string, task store.Task) (store.Task, ordering.Item, error) {
		task.ID = "tsk_new"
		task.ListID = listID
		task.ProjectID = "prj_1"
		task.Position = 16384
		return task, ordering.Item{ID: task.ID, ContainerID: listID, Position: task.Position}, nil
	}

	rr, payload := doRequest(t, handler, http.MethodPost, "/api/projects/prj_1/lists", token, map[string]any{"name": "Review"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", rr.Code, payload)
	}
	if payload["id"] != "lst_new" || payload["position"] != float64(49152) {
		t.Fatalf("unexpected list %v", payload)
	}

	rr, payload = doRequest(t, handler, http.MethodPost, "/api/lists/lst_new/tasks", token, map[string]any{"name": "Review PR"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", rr.Code, payload)
	}
	if payload["listId"] != "lst_new" || payload["createdBy"] != "usr_member" {
		t.Fatalf("unexpected task %v", payload)
	}

	rr, payload = doRequest(t, handler, http.MethodPost, "/api/lists/lst_new/tasks", token, map[string]any{"name": ""})
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error, got %d %v", rr.Code, payload)
	}
}

func TestInvalidBodyIsRejected(t *testing.T) {
	env, handler := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, env, "member@example.com"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestMoveTaskEndpoint(t *testing.T) {
	env, handler := newTestServer(t)
	token := tokenFor(t, env, "member@example.com")

	env.tasks.reorderFn = func(_ context.Context, id string, req ordering.MoveRequest) (ordering.MoveEvent, error) {
		if req.AboveID != "tsk_2" || req.BelowID != "tsk_3" {
			return ordering.MoveEvent{}, ordering.ErrInvariantViolation
		}
		moved := ordering.Item{ID: id, ContainerID: "lst_a", Position: 24576}
		return ordering.MoveEvent{
			Kind:              "task",
			Moved:             &moved,
			Affected:          []ordering.Item{},
			SourceContainerID: "lst_a",
			TargetContainerID: "lst_a",
			Strategy:          ordering.StrategyBetween,
		}, nil
	}

	rr, payload := doRequest(t, handler, http.MethodPost, "/api/tasks/tsk_1/move", token, map[string]any{"aboveId": "tsk_2", "belowId": "tsk_3"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rr.Code, payload)
	}
	moved := payload["movedItem"].(map[string]any)
	if moved["position"] != float64(24576) || payload["strategy"] != "between" {
		t.Fatalf("unexpected event %v", payload)
	}

	rr, payload = doRequest(t, handler, http.MethodPost, "/api/tasks/tsk_1/move", token, map[string]any{"aboveId": "tsk_3", "belowId": "tsk_2"})
	if rr.Code != http.StatusConflict || payload["code"] != "INVARIANT_VIOLATION" {
		t.Fatalf("expected 409, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, handler, http.MethodPost, "/api/tasks/tsk_1/move", token, map[string]any{"targetContainerId": "lst_x"})
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "INVALID_REQUEST" {
		t.Fatalf("expected 422, got %d %v", rr.Code, payload)
	}
}

func TestStoreOutageMapsTo503(t *testing.T) {
	env, handler := newTestServer(t)
	env.lists.reorderFn = func(context.Context, string, ordering.MoveRequest) (ordering.MoveEvent, error) {
		return ordering.MoveEvent{}, &ordering.StoreError{Op: "begin", Err: errors.New("connection reset")}
	}
	rr, payload := doRequest(t, handler, http.MethodPost, "/api/lists/lst_a/move", tokenFor(t, env, "member@example.com"), map[string]any{})
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "STORE_UNAVAILABLE" {
		t.Fatalf("expected 503, got %d %v", rr.Code, payload)
	}
}

func TestInviteEndpointsRateLimit(t *testing.T) {
	env, handler := newTestServer(t)
	token := tokenFor(t, env, "member@example.com")

	for _, email := range []string{"a@example.com", "b@example.com"} {
		rr, payload := doRequest(t, handler, http.MethodPost, "/api/projects/prj_1/invites", token, map[string]any{"email": email})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d %v", rr.Code, payload)
		}
	}
	rr, payload := doRequest(t, handler, http.MethodPost, "/api/projects/prj_1/invites", token, map[string]any{"email": "c@example.com"})
	if rr.Code != http.StatusTooManyRequests || payload["code"] != "RATE_LIMITED" {
		t.Fatalf("expected 429, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, handler, http.MethodGet, "/api/projects/prj_1/invites", token, nil)
	if rr.Code != http.StatusOK || len(payload["invites"].([]any)) != 2 {
		t.Fatalf("expected two pending invites, got %d %v", rr.Code, payload)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	env, handler := newTestServer(t)
	token := tokenFor(t, env, "owner@example.com")

	rr, _ := doRequest(t, handler, http.MethodPost, "/api/projects", token, map[string]any{"name": "Roadmap"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	rr, payload := doRequest(t, handler, http.MethodGet, "/api/notifications?limit=5", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	feed := payload["notifications"].([]any)
	if len(feed) != 1 {
		t.Fatalf("expected one notification, got %v", feed)
	}
	id := feed[0].(map[string]any)["id"].(string)

	rr, payload = doRequest(t, handler, http.MethodPost, "/api/notifications/"+id+"/read", token, nil)
	if rr.Code != http.StatusOK || payload["read"] != true {
		t.Fatalf("expected read notification, got %d %v", rr.Code, payload)
	}

	other := tokenFor(t, env, "member@example.com")
	rr, _ = doRequest(t, handler, http.MethodDelete, "/api/notifications/"+id, other, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's notification, got %d", rr.Code)
	}

	rr, _ = doRequest(t, handler, http.MethodGet, "/api/notifications?limit=x", token, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad limit, got %d", rr.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env, handler := newTestServer(t)
	rr, payload := doRequest(t, handler, http.MethodGet, "/api/projects/prj_1/search?q=docs&limit=5", tokenFor(t, env, "member@example.com"), nil)
	if rr.Code != http.StatusOK || payload["query"] != "docs" || payload["total"] != float64(1) {
		t.Fatalf("unexpected search response %d %v", rr.Code, payload)
	}
}

func TestTaskSubscriptionStreamsEvents(t *testing.T) {
	env, handler := newTestServer(t)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	moves := make(chan ordering.MoveEvent, 1)
	env.tasks.subscribeFn = func(ctx context.Context, containerID string) (<-chan ordering.MoveEvent, error) {
		if containerID != "lst_a" {
			t.Errorf("subscribed to %q", containerID)
		}
		return moves, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/subscriptions/tasks?listId=lst_a&access_token=" + tokenFor(t, env, "member@example.com")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	moved := ordering.Item{ID: "tsk_1", ContainerID: "lst_b", Position: 16384}
	moves <- ordering.MoveEvent{Kind: "task", Moved: &moved, SourceContainerID: "lst_a", TargetContainerID: "lst_b"}

	var event StreamEvent
	readEvent(t, ctx, conn, &event)
	if event.Topic != "MOVE_TASK" {
		t.Fatalf("unexpected topic %q", event.Topic)
	}

	if err := env.bus.Publish(ctx, "CREATE_TASK", ordering.ItemEvent[store.Task]{Kind: "task", ContainerID: "lst_b"}); err != nil {
		t.Fatal(err)
	}
	if err := env.bus.Publish(ctx, "CREATE_TASK", ordering.ItemEvent[store.Task]{Kind: "task", ContainerID: "lst_a", Item: ordering.Item{ID: "tsk_9"}}); err != nil {
		t.Fatal(err)
	}
	readEvent(t, ctx, conn, &event)
	if event.Topic != "CREATE_TASK" {
		t.Fatalf("unexpected topic %q", event.Topic)
	}
	var created ordering.ItemEvent[store.Task]
	if err := json.Unmarshal(event.Payload, &created); err != nil {
		t.Fatal(err)
	}
	if created.Item.ID != "tsk_9" {
		t.Fatalf("event for another list leaked through: %+v", created)
	}
}

func TestSubscriptionRejectsNonMember(t *testing.T) {
	env, handler := newTestServer(t)
	rr, payload := doRequest(t, handler, http.MethodGet, "/api/subscriptions/lists?projectId=prj_1&access_token="+tokenFor(t, env, "outsider@example.com"), "", nil)
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", rr.Code, payload)
	}
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event *StreamEvent) {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
}

func TestTeamEndpoints(t *testing.T) {
	env, handler := newTestServer(t)
	ownerToken := tokenFor(t, env, "owner@example.com")
	outsiderToken := tokenFor(t, env, "outsider@example.com")

	rr, payload := doRequest(t, handler, http.MethodPost, "/api/teams", ownerToken, map[string]any{"name": "Platform"})
	if rr.Code != http.StatusCreated || payload["id"] == "" || payload["ownerId"] != "usr_owner" {
		t.Fatalf("expected 201, got %d %v", rr.Code, payload)
	}
	rr, payload = doRequest(t, handler, http.MethodGet, "/api/teams", ownerToken, nil)
	if rr.Code != http.StatusOK || len(payload["teams"].([]any)) != 2 {
		t.Fatalf("expected two teams, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, handler, http.MethodGet, "/api/teams/team_1", outsiderToken, nil)
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 for non-member, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, handler, http.MethodPost, "/api/teams/team_1/invites", ownerToken, map[string]any{"email": "outsider@example.com"})
	if rr.Code != http.StatusCreated || payload["token"] == "" {
		t.Fatalf("expected 201, got %d %v", rr.Code, payload)
	}
	token := payload["token"]

	rr, payload = doRequest(t, handler, http.MethodPost, "/api/teams/team_1/invites/accept", outsiderToken, map[string]any{"token": token})
	if rr.Code != http.StatusOK || payload["id"] != "team_1" {
		t.Fatalf("expected 200, got %d %v", rr.Code, payload)
	}
	rr, payload = doRequest(t, handler, http.MethodGet, "/api/teams/team_1", outsiderToken, nil)
	if rr.Code != http.StatusOK || len(payload["members"].([]any)) != 3 {
		t.Fatalf("expected three members, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, handler, http.MethodDelete, "/api/teams/team_1/members/usr_member", outsiderToken, nil)
	if rr.Code != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403 for member, got %d %v", rr.Code, payload)
	}
	rr, payload = doRequest(t, handler, http.MethodPut, "/api/teams/team_1/projects/prj_2", ownerToken, nil)
	if rr.Code != http.StatusOK || payload["teamId"] != "team_1" {
		t.Fatalf("expected project in team, got %d %v", rr.Code, payload)
	}
}

func TestPublicLinkEndpoints(t *testing.T) {
	env, handler := newTestServer(t)
	ownerToken := tokenFor(t, env, "owner@example.com")
	memberToken := tokenFor(t, env, "member@example.com")
	outsiderToken := tokenFor(t, env, "outsider@example.com")

	rr, payload := doRequest(t, handler, http.MethodPost, "/api/projects/prj_1/public-link", memberToken, nil)
	if rr.Code != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403 for member, got %d %v", rr.Code, payload)
	}
	rr, payload = doRequest(t, handler, http.MethodPost, "/api/projects/prj_1/public-link", ownerToken, nil)
	if rr.Code != http.StatusOK || payload["token"] == "" {
		t.Fatalf("expected 200, got %d %v", rr.Code, payload)
	}
	link := payload["token"].(string)

	rr, payload = doRequest(t, handler, http.MethodGet, "/api/projects/prj_1/public-link/validate?link="+link, outsiderToken, nil)
	if rr.Code != http.StatusOK || payload["valid"] != true || payload["projectId"] != "prj_1" {
		t.Fatalf("expected valid link, got %d %v", rr.Code, payload)
	}
	rr, payload = doRequest(t, handler, http.MethodPost, "/api/projects/prj_1/public-link/accept", outsiderToken, map[string]any{"link": link})
	if rr.Code != http.StatusOK || payload["id"] != "prj_1" {
		t.Fatalf("expected 200, got %d %v", rr.Code, payload)
	}
	rr, _ = doRequest(t, handler, http.MethodGet, "/api/projects/prj_1", outsiderToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected the new member to see the project, got %d", rr.Code)
	}

	rr, _ = doRequest(t, handler, http.MethodDelete, "/api/projects/prj_1/public-link", ownerToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected revoke to succeed, got %d", rr.Code)
	}
	rr, payload = doRequest(t, handler, http.MethodGet, "/api/projects/prj_1/public-link/validate?link="+link, outsiderToken, nil)
	if rr.Code != http.StatusNotFound || payload["code"] != "LINK_EXPIRED" {
		t.Fatalf("expected LINK_EXPIRED, got %d %v", rr.Code, payload)
	}
}
