package gateway

import "testing"

func TestMatchAck(t *testing.T) {
	tests := []struct {
		name string
		note string
		want bool
	}{
		{name: "legacy text", note: "received", want: true},
		{name: "legacy sentence", note: "Message Received OK\n", want: true},
		{name: "json match", note: `{"id":"A_MEDICAL_1","status":"received"}`, want: true},
		{name: "json without id", note: `{"status":"received"}`, want: true},
		{name: "json other id", note: `{"id":"B_FOOD_2","status":"received"}`, want: false},
		{name: "json other status", note: `{"id":"A_MEDICAL_1","status":"queued"}`, want: false},
		{name: "noise", note: "busy", want: false},
		{name: "empty", note: "", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := matchAck([]byte(tc.note), "A_MEDICAL_1"); got != tc.want {
				t.Fatalf("matchAck(%q) = %v, want %v", tc.note, got, tc.want)
			}
		})
	}
}
