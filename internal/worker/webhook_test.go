package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meridian/cohort-scheduler/internal/domain"
)

// =============================================================================
// WEBHOOK RECEIVER TESTS
// =============================================================================

func postSNS(t *testing.T, recv *WebhookReceiver, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ses", strings.NewReader(body))
	rec := httptest.NewRecorder()
	recv.HandleSES(rec, req)
	return rec
}

// sesEnvelope builds the SNS Notification wrapper around one SES event.
func sesEnvelope(t *testing.T, eventType, messageID string, ts time.Time) string {
	t.Helper()
	inner, err := json.Marshal(map[string]any{
		"eventType": eventType,
		"mail": map[string]any{
			"messageId": messageID,
			"timestamp": ts.Format(time.RFC3339),
		},
	})
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	outer, err := json.Marshal(map[string]any{
		"Type":    "Notification",
		"Message": string(inner),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return string(outer)
}

func TestWebhookReceiver_ConfirmsSubscription(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer srv.Close()

	e := newTestEnv(t)
	recv := NewWebhookReceiver(e.del)
	recv.SetHTTPClient(srv.Client())

	body, err := json.Marshal(map[string]any{
		"Type":         "SubscriptionConfirmation",
		"SubscribeURL": srv.URL,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	rec := postSNS(t, recv, string(body))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("subscribe URL hit %d times, want 1", got)
	}
}

func TestWebhookReceiver_StagesDeliveryEvent(t *testing.T) {
	e := newTestEnv(t)
	recv := NewWebhookReceiver(e.del)

	ts := time.Date(2023, time.April, 10, 10, 5, 0, 0, time.UTC)
	rec := postSNS(t, recv, sesEnvelope(t, "Delivery", "msg-1", ts))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	events, err := e.store.UnprocessedEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("unprocessed events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("staged %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Provider != "ses" {
		t.Errorf("provider = %q, want ses", ev.Provider)
	}
	if ev.CorrelationID != "msg-1" {
		t.Errorf("correlation id = %q, want msg-1", ev.CorrelationID)
	}
	if ev.EventType != domain.DeliveryEventDelivered {
		t.Errorf("event type = %s, want delivered", ev.EventType)
	}
	if !ev.EventTimestamp.Equal(ts) {
		t.Errorf("event timestamp = %v, want %v", ev.EventTimestamp, ts)
	}
	if got := recv.Stats()["events_staged"]; got != 1 {
		t.Errorf("events_staged = %d, want 1", got)
	}
}

func TestWebhookReceiver_LegacyBounceNotification(t *testing.T) {
	e := newTestEnv(t)
	recv := NewWebhookReceiver(e.del)

	// Legacy notifications carry notificationType instead of eventType.
	inner, err := json.Marshal(map[string]any{
		"notificationType": "Bounce",
		"mail": map[string]any{
			"messageId": "msg-9",
			"timestamp": "2023-04-10T10:05:00Z",
		},
	})
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	outer, err := json.Marshal(map[string]any{"Type": "Notification", "Message": string(inner)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	rec := postSNS(t, recv, string(outer))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	events, err := e.store.UnprocessedEvents(context.Background(), 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one staged event, got %d (err %v)", len(events), err)
	}
	if events[0].EventType != domain.DeliveryEventFailed {
		t.Errorf("event type = %s, want failed", events[0].EventType)
	}
}

func TestWebhookReceiver_IgnoresComplaints(t *testing.T) {
	e := newTestEnv(t)
	recv := NewWebhookReceiver(e.del)

	rec := postSNS(t, recv, sesEnvelope(t, "Complaint", "msg-2", time.Now()))
	if rec.Code != http.StatusOK {
		t.Errorf("unmapped kinds must still be acknowledged, got %d", rec.Code)
	}

	events, err := e.store.UnprocessedEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("unprocessed events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("complaint should not be staged, got %d events", len(events))
	}
	if got := recv.Stats()["events_ignored"]; got != 1 {
		t.Errorf("events_ignored = %d, want 1", got)
	}
}

func TestWebhookReceiver_MalformedPayloads(t *testing.T) {
	e := newTestEnv(t)
	recv := NewWebhookReceiver(e.del)

	// A broken envelope is the sender's fault.
	if rec := postSNS(t, recv, "not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid envelope status = %d, want 400", rec.Code)
	}

	// A broken inner message is acknowledged so SNS stops redelivering it.
	outer, err := json.Marshal(map[string]any{"Type": "Notification", "Message": "{{{"})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if rec := postSNS(t, recv, string(outer)); rec.Code != http.StatusOK {
		t.Errorf("unparseable notification status = %d, want 200", rec.Code)
	}
	if got := recv.Stats()["errors"]; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}

	// Same for an event with no correlation id: nothing to match, no retry.
	if rec := postSNS(t, recv, sesEnvelope(t, "Delivery", "", time.Now())); rec.Code != http.StatusOK {
		t.Errorf("missing message id status = %d, want 200", rec.Code)
	}
	if got := recv.Stats()["errors"]; got != 2 {
		t.Errorf("errors = %d, want 2", got)
	}

	if events, _ := e.store.UnprocessedEvents(context.Background(), 10); len(events) != 0 {
		t.Errorf("malformed payloads staged %d events, want 0", len(events))
	}
}
