package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/fanout/internal/domain"
)

// ConnectionStore implements domain.ConnectionStore backed by the connections table.
type ConnectionStore struct {
	pool       *pgxpool.Pool
	instanceID string
}

func NewConnectionStore(pool *pgxpool.Pool, instanceID string) *ConnectionStore {
	return &ConnectionStore{pool: pool, instanceID: instanceID}
}

const insertConnection = `
INSERT INTO connections (connection_id, instance_id)
VALUES ($1, $2)
ON CONFLICT (connection_id) DO NOTHING`

func (s *ConnectionStore) Add(ctx context.Context, id domain.ConnectionID) error {
	if _, err := s.pool.Exec(ctx, insertConnection, string(id), s.instanceID); err != nil {
		return unavailable("add connection", err)
	}
	return nil
}

func (s *ConnectionStore) Remove(ctx context.Context, id domain.ConnectionID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE connection_id = $1`, string(id)); err != nil {
		return unavailable("remove connection", err)
	}
	return nil
}

func (s *ConnectionStore) ListAll(ctx context.Context) ([]domain.ConnectionID, error) {
	rows, err := s.pool.Query(ctx, `SELECT connection_id FROM connections`)
	if err != nil {
		return nil, unavailable("list connections", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, unavailable("list connections", err)
	}

	result := make([]domain.ConnectionID, len(ids))
	for i, id := range ids {
		result[i] = domain.ConnectionID(id)
	}
	return result, nil
}

func (s *ConnectionStore) Record(ctx context.Context, id domain.ConnectionID) (domain.ConnectionRecord, error) {
	record := domain.ConnectionRecord{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT instance_id, connected_at FROM connections WHERE connection_id = $1`, string(id),
	).Scan(&record.InstanceID, &record.ConnectedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConnectionRecord{}, domain.ErrConnectionNotFound
	}
	if err != nil {
		return domain.ConnectionRecord{}, unavailable("get connection", err)
	}
	return record, nil
}

// RemoveInstance drops every record owned by instanceID and returns how many were removed.
// Called on graceful shutdown and by the remove-instance tool for instances that crashed.
func (s *ConnectionStore) RemoveInstance(ctx context.Context, instanceID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE instance_id = $1`, instanceID)
	if err != nil {
		return 0, unavailable("remove instance connections", err)
	}
	return tag.RowsAffected(), nil
}

func (s *ConnectionStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}
