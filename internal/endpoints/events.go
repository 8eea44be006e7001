package endpoints

import (
	"fmt"
	"net/http"

	"github.com/thenexusengine/adslot/internal/analytics"
)

// maxEventsPerRequest bounds one POST /events batch
const maxEventsPerRequest = 500

// EventBatch is the body of POST /events
type EventBatch struct {
	Events []analytics.Event `json:"events"`
}

// EventsHandler accepts click and conversion events from the page-render
// collaborator and buffers them for delivery
type EventsHandler struct {
	recorder EventRecorder
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(recorder EventRecorder) *EventsHandler {
	return &EventsHandler{recorder: recorder}
}

// ServeHTTP handles POST /events. The whole batch is rejected when any event
// is invalid.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch EventBatch
	if err := decodeBody(r, &batch); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(batch.Events) == 0 {
		writeError(w, "events: at least one event required", http.StatusBadRequest)
		return
	}
	if len(batch.Events) > maxEventsPerRequest {
		writeError(w, fmt.Sprintf("events: at most %d per request", maxEventsPerRequest), http.StatusRequestEntityTooLarge)
		return
	}

	for i, e := range batch.Events {
		if err := validateEvent(e); err != nil {
			writeError(w, fmt.Sprintf("events[%d]: %s", i, err), http.StatusBadRequest)
			return
		}
	}
	for _, e := range batch.Events {
		h.recorder.Record(e)
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(batch.Events)})
}

func validateEvent(e analytics.Event) error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.AdID == "" {
		return fmt.Errorf("ad_id required")
	}
	if e.Amount < 0 {
		return fmt.Errorf("amount must not be negative")
	}
	return nil
}
