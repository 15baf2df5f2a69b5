package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore implements SessionStore against a Redis instance,
// matching the key shapes the HTTP interceptor shape of spec.md §6
// documents: "session:{id}:taints" (a Redis set of tag strings) and
// "session:{id}:history" (an append-only list of JSON entries).
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore wraps an existing *redis.Client.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func taintsKey(sessionID string) string  { return fmt.Sprintf("session:%s:taints", sessionID) }
func historyKey(sessionID string) string { return fmt.Sprintf("session:%s:history", sessionID) }

// GetTaints reads the session's taint set. A read that times out or errors
// is the caller's responsibility to treat as fail-safe-empty per spec.md
// §4.7/§7 — this method returns the error unmodified so the caller's
// context deadline decides that policy.
func (s *RedisSessionStore) GetTaints(ctx context.Context, sessionID string) (map[string]bool, error) {
	members, err := s.client.SMembers(ctx, taintsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis get taints: %w", err)
	}
	out := make(map[string]bool, len(members))
	for _, m := range members {
		out[m] = true
	}
	return out, nil
}

// ApplyTaintDelta adds then removes taints, matching the adds-before-removes
// ordering invariant.
func (s *RedisSessionStore) ApplyTaintDelta(ctx context.Context, sessionID string, adds, removes []string) error {
	key := taintsKey(sessionID)
	if len(adds) > 0 {
		members := make([]any, len(adds))
		for i, a := range adds {
			members[i] = a
		}
		if err := s.client.SAdd(ctx, key, members...).Err(); err != nil {
			return fmt.Errorf("store: redis add taints: %w", err)
		}
	}
	if len(removes) > 0 {
		members := make([]any, len(removes))
		for i, r := range removes {
			members[i] = r
		}
		if err := s.client.SRem(ctx, key, members...).Err(); err != nil {
			return fmt.Errorf("store: redis remove taints: %w", err)
		}
	}
	return nil
}

type historyEntry struct {
	Tool    string   `json:"tool"`
	Classes []string `json:"classes"`
}

// AppendHistory pushes a new call record onto the session's history list.
func (s *RedisSessionStore) AppendHistory(ctx context.Context, sessionID string, tool string, classes []string) error {
	payload, err := json.Marshal(historyEntry{Tool: tool, Classes: classes})
	if err != nil {
		return fmt.Errorf("store: marshal history entry: %w", err)
	}
	if err := s.client.RPush(ctx, historyKey(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("store: redis append history: %w", err)
	}
	return nil
}

// Ping checks Redis reachability for the /health endpoint.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
