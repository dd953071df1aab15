package kv

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultNotificationLimit = 10
	maxNotificationsPerUser  = 100
	notificationTTL          = 30 * 24 * time.Hour
)

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	ProjectID string    `json:"projectId,omitempty"`
	Message   string    `json:"message"`
	Date      time.Time `json:"date"`
	Read      bool      `json:"read"`
}

func (s *Store) notificationKey(id string) string {
	return s.key("notifications", id)
}

func (s *Store) feedKey(userID string) string {
	return s.key("user-notifications", userID)
}

// PushNotification stores n and puts it at the head of the user's feed.
func (s *Store) PushNotification(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Date.IsZero() {
		n.Date = s.now().UTC()
	}
	hashKey := s.notificationKey(n.ID)
	feed := s.feedKey(n.UserID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hashKey, map[string]any{
			"id":        n.ID,
			"userId":    n.UserID,
			"type":      n.Type,
			"projectId": n.ProjectID,
			"message":   n.Message,
			"date":      n.Date.Format(time.RFC3339Nano),
			"read":      strconv.FormatBool(n.Read),
		})
		pipe.Expire(ctx, hashKey, notificationTTL)
		pipe.LPush(ctx, feed, n.ID)
		pipe.LTrim(ctx, feed, 0, maxNotificationsPerUser-1)
		return nil
	})
	if err != nil {
		return Notification{}, fmt.Errorf("push notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns up to limit of the user's newest notifications.
// Feed entries whose notification has expired are dropped from the feed.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	feed := s.feedKey(userID)
	ids, err := s.client.LRange(ctx, feed, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read notification feed: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.notificationKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read notifications: %w", err)
	}

	out := make([]Notification, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			if err := s.client.LRem(ctx, feed, 0, ids[i]).Err(); err != nil {
				return nil, fmt.Errorf("prune notification %s: %w", ids[i], err)
			}
			continue
		}
		out = append(out, notificationFromHash(fields))
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) (Notification, error) {
	n, err := s.ownedNotification(ctx, userID, id)
	if err != nil {
		return Notification{}, err
	}
	if err := s.client.HSet(ctx, s.notificationKey(id), "read", "true").Err(); err != nil {
		return Notification{}, fmt.Errorf("mark notification read: %w", err)
	}
	n.Read = true
	return n, nil
}

func (s *Store) RemoveNotification(ctx context.Context, userID, id string) error {
	if _, err := s.ownedNotification(ctx, userID, id); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.notificationKey(id))
		pipe.LRem(ctx, s.feedKey(userID), 0, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove notification: %w", err)
	}
	return nil
}

func (s *Store) ownedNotification(ctx context.Context, userID, id string) (Notification, error) {
	fields, err := s.client.HGetAll(ctx, s.notificationKey(id)).Result()
	if err != nil {
		return Notification{}, fmt.Errorf("read notification: %w", err)
	}
	if len(fields) == 0 || fields["userId"] != userID {
		return Notification{}, ErrNotFound
	}
	return notificationFromHash(fields), nil
}

func notificationFromHash(fields map[string]string) Notification {
	date, _ := time.Parse(time.RFC3339Nano, fields["date"])
	read, _ := strconv.ParseBool(fields["read"])
	return Notification{
		ID:        fields["id"],
		UserID:    fields["userId"],
		Type:      fields["type"],
		ProjectID: fields["projectId"],
		Message:   fields["message"],
		Date:      date,
		Read:      read,
	}
}
