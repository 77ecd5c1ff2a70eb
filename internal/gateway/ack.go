package gateway

import (
	"bytes"
	"encoding/json"
	"strings"
)

const ackKeyword = "received"

type ackBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// matchAck reports whether a notification acknowledges the in-flight message.
// JSON acks must carry status "received" and, when present, the same id.
// Anything else is treated as legacy text and matches on the keyword.
func matchAck(note []byte, inFlightID string) bool {
	trimmed := bytes.TrimSpace(note)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var body ackBody
		if err := json.Unmarshal(trimmed, &body); err == nil {
			if !strings.EqualFold(body.Status, ackKeyword) {
				return false
			}
			return body.ID == "" || body.ID == inFlightID
		}
	}

	return strings.Contains(strings.ToLower(string(trimmed)), ackKeyword)
}
