package events

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteSSE writes one Server-Sent Events frame: "event: name\ndata:
// json\n\n". Payload is marshalled as the frame's data; Timestamp rides
// inside it rather than as a separate SSE field, since EventSource
// exposes only `data` to JavaScript listeners.
func WriteSSE(w io.Writer, event Event) error {
	data, err := json.Marshal(struct {
		Payload   map[string]interface{} `json:"payload,omitempty"`
		Timestamp string                 `json:"timestamp"`
	}{Payload: event.Payload, Timestamp: event.Timestamp.Format("2006-01-02T15:04:05Z07:00")})
	if err != nil {
		return fmt.Errorf("events: marshal sse frame: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, data)
	return err
}
