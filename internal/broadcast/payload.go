package broadcast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pscheid92/fanout/internal/domain"
)

var (
	jsonTrue  = json.RawMessage("true")
	jsonFalse = json.RawMessage("false")
)

// BuildPayloads serializes msg into the origin and non-origin variants.
//
// A JSON object keeps its fields. A JSON array contributes its elements under their
// index ("0", "1", ...) and null contributes nothing. Strings, numbers and booleans
// are wrapped under "data". Input that is not valid JSON is wrapped verbatim as a
// string under "data" instead of failing, so one malformed message cannot block
// delivery to everyone else.
// Both variants carry the same "_now" (epoch milliseconds).
func BuildPayloads(msg domain.BroadcastMessage) (domain.OutboundPayload, error) {
	fields := parseFields(msg.Raw)

	now, err := json.Marshal(msg.Now.UnixMilli())
	if err != nil {
		return domain.OutboundPayload{}, fmt.Errorf("failed to encode timestamp: %w", err)
	}
	fields[domain.PayloadNowField] = now

	fields[domain.PayloadMeField] = jsonTrue
	forOrigin, err := json.Marshal(fields)
	if err != nil {
		return domain.OutboundPayload{}, fmt.Errorf("failed to encode origin payload: %w", err)
	}

	fields[domain.PayloadMeField] = jsonFalse
	forOthers, err := json.Marshal(fields)
	if err != nil {
		return domain.OutboundPayload{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	return domain.OutboundPayload{ForOrigin: forOrigin, ForOthers: forOthers}, nil
}

func parseFields(raw []byte) map[string]json.RawMessage {
	trimmed := bytes.TrimSpace(raw)

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var object map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &object); err == nil && object != nil {
			return object
		}
	}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var elements []json.RawMessage
		if err := json.Unmarshal(trimmed, &elements); err == nil {
			fields := make(map[string]json.RawMessage, len(elements)+2)
			for i, element := range elements {
				fields[strconv.Itoa(i)] = element
			}
			return fields
		}
	}

	if bytes.Equal(trimmed, []byte("null")) {
		return make(map[string]json.RawMessage, 2)
	}

	if json.Valid(trimmed) {
		return map[string]json.RawMessage{domain.PayloadDataField: json.RawMessage(trimmed)}
	}

	slog.Warn("Invalid JSON in broadcast message, wrapping raw value", "size", len(raw))

	// Marshalling a string cannot fail.
	wrapped, _ := json.Marshal(string(raw))
	return map[string]json.RawMessage{domain.PayloadDataField: wrapped}
}
