package domain

import "encoding/json"

// OutboundBody is the JSON object sent to the gateway node and to the cloud sink.
type OutboundBody struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"`
	Status    string   `json:"status"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func newOutboundBody(m DistressMessage, status string) OutboundBody {
	body := OutboundBody{
		ID:        m.ID,
		Type:      string(m.Category),
		Message:   m.Text,
		Timestamp: m.CreatedAt.UnixMilli(),
		Status:    status,
	}
	if m.Location != nil {
		lat, lon := m.Location.Latitude, m.Location.Longitude
		body.Latitude = &lat
		body.Longitude = &lon
	}

	return body
}

// GatewayBody serializes a message for the point-to-point gateway link.
func GatewayBody(m DistressMessage) ([]byte, error) {
	return json.Marshal(newOutboundBody(m, GatewayForwardStatus))
}

// CloudBody carries the locally tracked status.
func CloudBody(m DistressMessage) ([]byte, error) {
	return json.Marshal(newOutboundBody(m, string(m.Status)))
}
