package domain

import "time"

const (
	// PayloadNowField carries the broadcast timestamp in epoch milliseconds.
	PayloadNowField = "_now"
	// PayloadMeField is true only in the copy sent to the origin connection.
	PayloadMeField = "_me"
	// PayloadDataField wraps inbound messages that are not JSON objects.
	PayloadDataField = "data"
)

// BroadcastMessage is one inbound message to fan out.
// Origin is nil for system-initiated broadcasts.
type BroadcastMessage struct {
	Origin *ConnectionID
	Raw    []byte
	Now    time.Time
}

// OutboundPayload holds the two serialized variants of a broadcast.
// They differ only in the _me field.
type OutboundPayload struct {
	ForOrigin []byte
	ForOthers []byte
}

// For returns the variant addressed to id.
func (p OutboundPayload) For(id ConnectionID, origin *ConnectionID) []byte {
	if origin != nil && *origin == id {
		return p.ForOrigin
	}
	return p.ForOthers
}

// BroadcastResult counts per-connection outcomes of one broadcast.
type BroadcastResult struct {
	Delivered int `json:"delivered"`
	Pruned    int `json:"pruned"`
	// Failed counts failed deliveries whose pruning failed as well.
	Failed int `json:"failed"`
	// Skipped counts deliveries never attempted because the broadcast was cancelled.
	Skipped int `json:"skipped"`
}

// Recipients is the number of connections present at enumeration time.
func (r BroadcastResult) Recipients() int {
	return r.Delivered + r.Pruned + r.Failed + r.Skipped
}
