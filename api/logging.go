/*
logging.go - Structured event logging

PURPOSE:
  One-line JSON events for the money-moving paths, on top of the stdlib
  logger. Request-level access logging is chi's middleware.Logger; these
  events carry the domain outcome (what settled, what was refused), which
  access logs cannot.
*/
package api

import (
	"encoding/json"
	"log"
	"time"
)

// logEvent emits a single JSON log line. Marshal failures fall back to a
// plain line rather than dropping the event.
func logEvent(event string, fields map[string]any) {
	payload := map[string]any{
		"event": event,
		"ts":    time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		payload[k] = v
	}

	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("event=%s (unmarshalable fields: %v)", event, err)
		return
	}
	log.Print(string(b))
}
