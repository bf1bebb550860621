package worker

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/pkg/httpretry"
	"github.com/meridian/cohort-scheduler/internal/service/delivery"
)

// =============================================================================
// PROVIDER WEBHOOK RECEIVER
// =============================================================================
// Ingests SES event notifications delivered over SNS. Events are staged and
// answered immediately; matching against delivery records happens in the
// reconciler. Replies are 200 even for events we cannot use, because SNS
// retries anything else and a malformed event never becomes well-formed.

// WebhookReceiver handles incoming provider event notifications.
type WebhookReceiver struct {
	del        *delivery.Service
	httpClient httpretry.HTTPDoer // confirms SNS subscriptions

	// Stats
	eventsStaged  int64
	eventsIgnored int64
	errors        int64
}

// NewWebhookReceiver creates a receiver staging events into the delivery
// service.
func NewWebhookReceiver(del *delivery.Service) *WebhookReceiver {
	return &WebhookReceiver{
		del: del,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: 10 * time.Second,
		}, 3),
	}
}

// SetHTTPClient overrides the client used to confirm SNS subscriptions.
func (w *WebhookReceiver) SetHTTPClient(c httpretry.HTTPDoer) {
	if c != nil {
		w.httpClient = c
	}
}

// snsEnvelope is the SNS wrapper around every SES notification.
type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageId    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	SubscribeURL string `json:"SubscribeURL"`
	Message      string `json:"Message"`
}

// sesNotification is the SES event inside the SNS message. Configuration
// set event publishing uses eventType; legacy notifications use
// notificationType.
type sesNotification struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string    `json:"messageId"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"mail"`
}

// HandleSES processes one SNS-delivered SES event.
func (w *WebhookReceiver) HandleSES(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "failed to read body", http.StatusBadRequest)
		return
	}

	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(rw, "invalid JSON", http.StatusBadRequest)
		return
	}

	if env.Type == "SubscriptionConfirmation" {
		w.confirmSubscription(env.SubscribeURL)
		rw.WriteHeader(http.StatusOK)
		return
	}

	var note sesNotification
	if err := json.Unmarshal([]byte(env.Message), &note); err != nil {
		atomic.AddInt64(&w.errors, 1)
		log.Printf("[WebhookReceiver] Unparseable SES notification: %v", err)
		rw.WriteHeader(http.StatusOK)
		return
	}

	kind := note.EventType
	if kind == "" {
		kind = note.NotificationType
	}
	eventType, ok := mapSESEvent(kind)
	if !ok {
		atomic.AddInt64(&w.eventsIgnored, 1)
		rw.WriteHeader(http.StatusOK)
		return
	}

	ev := &domain.DeliveryEvent{
		Provider:       "ses",
		CorrelationID:  note.Mail.MessageID,
		EventType:      eventType,
		EventTimestamp: note.Mail.Timestamp,
		Payload:        json.RawMessage(env.Message),
	}
	if err := w.del.StageEvent(r.Context(), ev); err != nil {
		atomic.AddInt64(&w.errors, 1)
		log.Printf("[WebhookReceiver] Stage %s event failed: %v", kind, err)
		rw.WriteHeader(http.StatusOK)
		return
	}

	atomic.AddInt64(&w.eventsStaged, 1)
	rw.WriteHeader(http.StatusOK)
}

func (w *WebhookReceiver) confirmSubscription(url string) {
	if url == "" {
		return
	}
	log.Printf("[WebhookReceiver] SNS subscription confirmation received, confirming...")
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Printf("[WebhookReceiver] Invalid subscription URL: %v", err)
		return
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		log.Printf("[WebhookReceiver] Failed to confirm subscription: %v", err)
		return
	}
	resp.Body.Close()
	log.Printf("[WebhookReceiver] SNS subscription confirmed")
}

// mapSESEvent translates SES event names to delivery event types. Unmapped
// kinds (Complaint, DeliveryDelay, Subscription) are acknowledged and
// dropped.
func mapSESEvent(kind string) (domain.DeliveryEventType, bool) {
	switch kind {
	case "Send":
		return domain.DeliveryEventSent, true
	case "Delivery":
		return domain.DeliveryEventDelivered, true
	case "Open":
		return domain.DeliveryEventOpened, true
	case "Click":
		return domain.DeliveryEventClicked, true
	case "Bounce", "Reject", "Rendering Failure":
		return domain.DeliveryEventFailed, true
	default:
		return "", false
	}
}

// Stats returns current counters.
func (w *WebhookReceiver) Stats() map[string]int64 {
	return map[string]int64{
		"events_staged":  atomic.LoadInt64(&w.eventsStaged),
		"events_ignored": atomic.LoadInt64(&w.eventsIgnored),
		"errors":         atomic.LoadInt64(&w.errors),
	}
}
