package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thenexusengine/adslot/internal/analytics"
)

func TestEventsHandler_AcceptsBatch(t *testing.T) {
	events := &mockEvents{}
	handler := NewEventsHandler(events)

	body := `{"events":[
		{"event_type":"click","ad_id":"ad-1","campaign_id":"c1"},
		{"event_type":"conversion","ad_id":"ad-1","amount":49.9}
	]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["accepted"] != 2 {
		t.Errorf("expected 2 accepted, got %d", resp["accepted"])
	}
	if len(events.events) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(events.events))
	}
	if events.events[1].Type != analytics.EventConversion || events.events[1].Amount != 49.9 {
		t.Errorf("unexpected conversion event: %+v", events.events[1])
	}
}

func TestEventsHandler_RejectsBadBatches(t *testing.T) {
	oversized := make([]string, maxEventsPerRequest+1)
	for i := range oversized {
		oversized[i] = fmt.Sprintf(`{"event_type":"click","ad_id":"ad-%d"}`, i)
	}

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"empty body", http.MethodPost, "", http.StatusBadRequest},
		{"empty batch", http.MethodPost, `{"events":[]}`, http.StatusBadRequest},
		{"unknown type", http.MethodPost, `{"events":[{"event_type":"hover","ad_id":"ad-1"}]}`, http.StatusBadRequest},
		{"missing ad", http.MethodPost, `{"events":[{"event_type":"click"}]}`, http.StatusBadRequest},
		{"negative amount", http.MethodPost, `{"events":[{"event_type":"conversion","ad_id":"ad-1","amount":-3}]}`, http.StatusBadRequest},
		{"too many", http.MethodPost, `{"events":[` + strings.Join(oversized, ",") + `]}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &mockEvents{}
			handler := NewEventsHandler(events)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, "/events", strings.NewReader(tt.body)))

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if len(events.events) != 0 {
				t.Errorf("expected nothing recorded, got %d events", len(events.events))
			}
		})
	}
}

func TestEventsHandler_InvalidEventRejectsWholeBatch(t *testing.T) {
	events := &mockEvents{}
	handler := NewEventsHandler(events)

	body := `{"events":[{"event_type":"click","ad_id":"ad-1"},{"event_type":"click","ad_id":""}]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "events[1]") {
		t.Errorf("expected error to name events[1], got %s", rec.Body.String())
	}
	if len(events.events) != 0 {
		t.Errorf("expected nothing recorded, got %d events", len(events.events))
	}
}
