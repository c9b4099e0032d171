package sse

import (
	"encoding/json"
	"net/http"
)

// Write serializes one Event onto the wire in standard SSE framing
// ("event: <name>\ndata: <json>\n\n"), flushing immediately so the client
// sees it without buffering delay.
func Write(w http.ResponseWriter, flusher http.Flusher, ev Event) error {
	if ev.Name != "" {
		if _, err := w.Write([]byte("event: " + ev.Name + "\n")); err != nil {
			return err
		}
	}
	b, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

// WriteAll writes a batch of events in order, stopping at the first error.
func WriteAll(w http.ResponseWriter, flusher http.Flusher, events []Event) error {
	for _, ev := range events {
		if err := Write(w, flusher, ev); err != nil {
			return err
		}
	}
	return nil
}
