package domain

import (
	"context"
	"time"
)

// ConnectionID is an opaque token naming one live bidirectional connection.
type ConnectionID string

func (id ConnectionID) String() string { return string(id) }

// ConnectionRecord is the stored form of a connection. Only ID is used by the
// broadcast path; the rest is metadata for stores that keep it.
type ConnectionRecord struct {
	ID          ConnectionID `json:"connection_id"`
	InstanceID  string       `json:"instance_id"`
	ConnectedAt time.Time    `json:"connected_at"`
}

// ConnectionStore is the registry of live connections.
//
// Add is idempotent and Remove is a no-op for unknown ids: duplicate connect
// and disconnect notifications are expected, not errors. Backend failures are
// returned wrapping ErrStoreUnavailable. Implementations must be safe for
// concurrent use.
type ConnectionStore interface {
	Add(ctx context.Context, id ConnectionID) error
	Remove(ctx context.Context, id ConnectionID) error
	// ListAll returns a snapshot of all registered ids.
	ListAll(ctx context.Context) ([]ConnectionID, error)
}

// ConnectionRecordReader looks up the stored record of a single connection.
// Returns ErrConnectionNotFound when the id is not registered.
type ConnectionRecordReader interface {
	Record(ctx context.Context, id ConnectionID) (ConnectionRecord, error)
}

// DeliveryClient pushes one serialized payload to one connection.
// Any error means the connection is considered dead.
type DeliveryClient interface {
	Send(ctx context.Context, id ConnectionID, payload []byte) error
}
