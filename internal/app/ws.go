package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"taskboard/api/internal/ordering"
	"taskboard/api/internal/pubsub"
	"taskboard/api/internal/rbac"
)

const wsWriteTimeout = 5 * time.Second

// StreamEvent is one message on a subscription stream.
type StreamEvent struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// SubscribeLists streams list create, delete and move events of a project.
func (s *Service) SubscribeLists(ctx context.Context, session Session, projectID string) (<-chan StreamEvent, error) {
	if err := s.authorize(ctx, session, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.streamContainer(ctx, s.lists, ordering.ListsInProjects, projectID)
}

// SubscribeTasks streams task create, delete and move events touching a list.
func (s *Service) SubscribeTasks(ctx context.Context, session Session, listID string) (<-chan StreamEvent, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, session, list.ProjectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.streamContainer(ctx, s.tasks, ordering.TasksInLists, listID)
}

// SubscribeNotifications streams the caller's new notifications.
func (s *Service) SubscribeNotifications(ctx context.Context, session Session) (<-chan StreamEvent, error) {
	messages, err := s.bus.Subscribe(ctx, TopicNotification)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var target struct {
				UserID string `json:"userId"`
			}
			if err := json.Unmarshal(msg.Payload, &target); err != nil || target.UserID != session.UserID {
				continue
			}
			select {
			case out <- StreamEvent{Topic: TopicNotification, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type moveSubscriber interface {
	Subscribe(context.Context, string) (<-chan ordering.MoveEvent, error)
}

func (s *Service) streamContainer(ctx context.Context, seq moveSubscriber, kind ordering.Kind, containerID string) (<-chan StreamEvent, error) {
	ctx, cancel := context.WithCancel(ctx)
	moves, err := seq.Subscribe(ctx, containerID)
	if err != nil {
		cancel()
		return nil, err
	}
	created, err := s.bus.Subscribe(ctx, kind.CreateTopic)
	if err != nil {
		cancel()
		return nil, err
	}
	deleted, err := s.bus.Subscribe(ctx, kind.DeleteTopic)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer cancel()
		defer close(out)
		for moves != nil || created != nil || deleted != nil {
			var event StreamEvent
			select {
			case <-ctx.Done():
				return
			case move, ok := <-moves:
				if !ok {
					moves = nil
					continue
				}
				payload, err := json.Marshal(move)
				if err != nil {
					continue
				}
				event = StreamEvent{Topic: kind.MoveTopic, Payload: payload}
			case msg, ok := <-created:
				if !ok {
					created = nil
					continue
				}
				if !inContainer(msg, containerID) {
					continue
				}
				event = StreamEvent{Topic: kind.CreateTopic, Payload: msg.Payload}
			case msg, ok := <-deleted:
				if !ok {
					deleted = nil
					continue
				}
				if !inContainer(msg, containerID) {
					continue
				}
				event = StreamEvent{Topic: kind.DeleteTopic, Payload: msg.Payload}
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

func inContainer(msg pubsub.Message, containerID string) bool {
	var event struct {
		ContainerID string `json:"containerId"`
	}
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return false
	}
	return event.ContainerID == containerID
}

// serveStream opens the stream, upgrades the connection and writes each event
// as a JSON text frame until the client leaves or the stream ends. Open errors
// are answered as plain HTTP errors.
func (s *HTTPServer) serveStream(w http.ResponseWriter, r *http.Request, open func(context.Context) (<-chan StreamEvent, error)) {
	streamCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, err := open(streamCtx)
	if err != nil {
		s.respond(w, http.StatusOK, nil, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		s.logger.Warn("websocket accept failed", "path", r.URL.Path, "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead handles control frames and cancels ctx on close.
	ctx := conn.CloseRead(streamCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancelWrite()
			if err != nil {
				s.logger.Debug("websocket write failed", "path", r.URL.Path, "error", err)
				return
			}
		}
	}
}

func (s *HTTPServer) originPatterns() []string {
	if s.corsOrigin == "" || s.corsOrigin == "*" {
		return []string{"*"}
	}
	var patterns []string
	for _, origin := range strings.Split(s.corsOrigin, ",") {
		patterns = append(patterns, originHost(strings.TrimSpace(origin)))
	}
	return patterns
}
