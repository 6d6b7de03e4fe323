package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// storedRecord is the JSON value kept per hash field. The field name is the connection ID.
type storedRecord struct {
	InstanceID  string `json:"instance_id"`
	ConnectedAt int64  `json:"connected_at"`
}

// ConnectionStore keeps the registry in a single Redis hash, <prefix>:connections,
// shared by every server instance.
type ConnectionStore struct {
	rdb        *goredis.Client
	key        string
	instanceID string
	clock      clockwork.Clock
}

func NewConnectionStore(rdb *goredis.Client, prefix, instanceID string, clock clockwork.Clock) *ConnectionStore {
	return &ConnectionStore{
		rdb:        rdb,
		key:        connectionsKey(prefix),
		instanceID: instanceID,
		clock:      clock,
	}
}

func connectionsKey(prefix string) string {
	return prefix + ":connections"
}

// Add registers id. HSETNX keeps the first record when an id is re-added.
func (s *ConnectionStore) Add(ctx context.Context, id domain.ConnectionID) error {
	value, err := json.Marshal(storedRecord{
		InstanceID:  s.instanceID,
		ConnectedAt: s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal connection record: %w", err)
	}

	if err := s.rdb.HSetNX(ctx, s.key, string(id), value).Err(); err != nil {
		return unavailable("add connection", err)
	}
	return nil
}

func (s *ConnectionStore) Remove(ctx context.Context, id domain.ConnectionID) error {
	if err := s.rdb.HDel(ctx, s.key, string(id)).Err(); err != nil {
		return unavailable("remove connection", err)
	}
	return nil
}

func (s *ConnectionStore) ListAll(ctx context.Context) ([]domain.ConnectionID, error) {
	fields, err := s.rdb.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, unavailable("list connections", err)
	}

	ids := make([]domain.ConnectionID, len(fields))
	for i, f := range fields {
		ids[i] = domain.ConnectionID(f)
	}
	return ids, nil
}

// Record returns the owner and connect time of id.
func (s *ConnectionStore) Record(ctx context.Context, id domain.ConnectionID) (domain.ConnectionRecord, error) {
	raw, err := s.rdb.HGet(ctx, s.key, string(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.ConnectionRecord{}, domain.ErrConnectionNotFound
	}
	if err != nil {
		return domain.ConnectionRecord{}, unavailable("get connection", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.ConnectionRecord{}, fmt.Errorf("failed to decode connection record %s: %w", id, err)
	}
	return domain.ConnectionRecord{
		ID:          id,
		InstanceID:  stored.InstanceID,
		ConnectedAt: time.UnixMilli(stored.ConnectedAt).UTC(),
	}, nil
}

// RemoveInstance drops every record owned by instanceID and returns how many were removed.
func (s *ConnectionStore) RemoveInstance(ctx context.Context, instanceID string) (int64, error) {
	all, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return 0, unavailable("scan connections", err)
	}

	var stale []string
	for id, value := range all {
		var stored storedRecord
		if err := json.Unmarshal([]byte(value), &stored); err != nil {
			continue
		}
		if stored.InstanceID == instanceID {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	removed, err := s.rdb.HDel(ctx, s.key, stale...).Result()
	if err != nil {
		return 0, unavailable("remove instance connections", err)
	}
	return removed, nil
}

func (s *ConnectionStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}
