package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/provider"
	"github.com/meridian/cohort-scheduler/internal/repository/memory"
	"github.com/meridian/cohort-scheduler/internal/service/catalog"
	"github.com/meridian/cohort-scheduler/internal/service/delivery"
	"github.com/meridian/cohort-scheduler/internal/service/scheduling"
	"github.com/meridian/cohort-scheduler/internal/worker"
)

// stubProvider hands back deterministic correlation ids without talking to
// any real provider.
type stubProvider struct {
	mu       sync.Mutex
	failNext int
	calls    int
}

func (p *stubProvider) Name() string { return "ses" }

func (p *stubProvider) Schedule(ctx context.Context, msg provider.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failNext > 0 {
		p.failNext--
		return "", fmt.Errorf("provider unavailable")
	}
	return fmt.Sprintf("msg-%d", p.calls), nil
}

type testEnv struct {
	router http.Handler
	cat    *catalog.Service
	sched  *scheduling.Service
	del    *delivery.Service
	prov   *stubProvider
	now    time.Time
}

// setupTestRouter wires the full route tree over in-memory services with a
// frozen clock (2023-04-10 10:00 UTC) and a single-attempt retry policy so
// one provider failure lands an instance in failed_to_enqueue.
func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	prov := &stubProvider{}
	renderer := provider.NewRenderer()

	e := &testEnv{
		prov: prov,
		now:  time.Date(2023, 4, 10, 10, 0, 0, 0, time.UTC),
	}
	e.cat = catalog.NewService(store)
	e.sched = scheduling.NewService(store)
	e.sched.SetClock(func() time.Time { return e.now })
	e.del = delivery.NewService(store, prov, renderer, delivery.Config{
		Sender:      delivery.SenderIdentity{FromEmail: "care@meridian.dev", FromName: "Meridian"},
		MaxAttempts: 1,
	})
	e.del.SetClock(func() time.Time { return e.now })

	h := NewHandlers(e.cat, e.sched, e.del, renderer)
	hc := NewHealthChecker(nil, nil)
	recv := worker.NewWebhookReceiver(e.del)
	e.router = SetupRoutes(h, hc, recv)
	return e
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), "body: %s", rec.Body.String())
	return m
}

// seedOneStageGroup builds group -> subgroup(order 1) -> send template due
// at 09:00 local, directly through the services.
func (e *testEnv) seedOneStageGroup(t *testing.T, groupName string) (groupID, subGroupID, templateID string) {
	t.Helper()
	ctx := context.Background()

	g, err := e.cat.CreateGroup(ctx, catalog.GroupInput{Name: groupName, DisplayName: groupName})
	require.NoError(t, err)
	sg, err := e.cat.AddSubGroup(ctx, catalog.SubGroupInput{
		GroupID:         g.ID,
		Name:            "stage-one",
		AssignmentOrder: 1,
	})
	require.NoError(t, err)
	tpl, err := e.cat.AddActionTemplate(ctx, catalog.TemplateInput{
		SubGroupID:     sg.ID,
		Name:           "reminder",
		ActionType:     "send_message",
		TimeOfDayLocal: "09:00",
		Subject:        "Hi {{ first_name }}",
		Body:           "<p>See you soon, {{ first_name }}.</p>",
	})
	require.NoError(t, err)
	return g.ID, sg.ID, tpl.ID
}

func (e *testEnv) seedUser(t *testing.T, email string) *domain.User {
	t.Helper()
	u, err := e.sched.CreateUser(context.Background(), scheduling.CreateUserInput{
		Email:     email,
		FirstName: "Ada",
		Timezone:  "UTC",
	})
	require.NoError(t, err)
	return u
}

// ============================================================================
// HEALTH
// ============================================================================

func TestHealthEndpoints(t *testing.T) {
	e := setupTestRouter(t)

	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body, "status")
	assert.Contains(t, body, "version")
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "checks")

	rec = e.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", decodeBody(t, rec)["status"])

	// No dependencies are configured in the test env, so readiness reports
	// degraded but still answers 200.
	rec = e.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ready := decodeBody(t, rec)
	assert.Equal(t, true, ready["ready"])
	assert.Contains(t, ready, "checks")
}

// ============================================================================
// CATALOG
// ============================================================================

func TestCreateGroup(t *testing.T) {
	e := setupTestRouter(t)

	rec := e.do(t, http.MethodPost, "/api/groups", map[string]any{
		"name":         "onboarding",
		"display_name": "Onboarding",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "onboarding", body["name"])
	assert.Equal(t, float64(1), body["version"])
	assert.Equal(t, "active", body["status"])

	// Same name again conflicts while version 1 is active.
	rec = e.do(t, http.MethodPost, "/api/groups", map[string]any{"name": "onboarding"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Missing name fails validation.
	rec = e.do(t, http.MethodPost, "/api/groups", map[string]any{"display_name": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Malformed JSON is a plain bad request.
	req := httptest.NewRequest(http.MethodPost, "/api/groups", bytes.NewBufferString("{nope"))
	raw := httptest.NewRecorder()
	e.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestGroupVersioning(t *testing.T) {
	e := setupTestRouter(t)
	groupID, _, _ := e.seedOneStageGroup(t, "welcome")

	rec := e.do(t, http.MethodGet, "/api/groups/"+groupID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, groupID, decodeBody(t, rec)["id"])

	rec = e.do(t, http.MethodGet, "/api/groups/by-name/welcome", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["version"])

	// Superseding mints version 2 and retires version 1.
	rec = e.do(t, http.MethodPut, "/api/groups/by-name/welcome", map[string]any{
		"name":        "welcome",
		"description": "second edition",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v2 := decodeBody(t, rec)
	assert.Equal(t, float64(2), v2["version"])
	assert.NotEqual(t, groupID, v2["id"])

	rec = e.do(t, http.MethodGet, "/api/groups/by-name/welcome/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	versions := decodeBody(t, rec)["versions"].([]any)
	assert.Len(t, versions, 2)

	rec = e.do(t, http.MethodGet, "/api/groups/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubGroupEndpoints(t *testing.T) {
	e := setupTestRouter(t)
	groupID, subGroupID, _ := e.seedOneStageGroup(t, "journey")

	rec := e.do(t, http.MethodPost, "/api/subgroups", map[string]any{
		"group_id":               groupID,
		"name":                   "stage-two",
		"assignment_order":       2,
		"start_date_days_offset": 7,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Order 1 is already taken by the seeded stage.
	rec = e.do(t, http.MethodPost, "/api/subgroups", map[string]any{
		"group_id":         groupID,
		"name":             "duplicate-order",
		"assignment_order": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/groups/"+groupID+"/subgroups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["subgroups"].([]any), 2)

	rec = e.do(t, http.MethodDelete, "/api/subgroups/"+subGroupID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/groups/"+groupID+"/subgroups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["subgroups"].([]any), 1)
}

func TestTemplateEndpoints(t *testing.T) {
	e := setupTestRouter(t)
	_, subGroupID, templateID := e.seedOneStageGroup(t, "notices")

	rec := e.do(t, http.MethodPost, "/api/templates", map[string]any{
		"subgroup_id":       subGroupID,
		"name":              "followup",
		"action_type":       "display_information",
		"time_of_day_local": "14:30",
		"body":              "<p>Check your dashboard.</p>",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Broken Liquid is rejected before the template is stored.
	rec = e.do(t, http.MethodPost, "/api/templates", map[string]any{
		"subgroup_id":       subGroupID,
		"name":              "broken",
		"action_type":       "send_message",
		"time_of_day_local": "09:00",
		"subject":           "Hello {{ first_name",
		"body":              "<p>x</p>",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "subject template")

	rec = e.do(t, http.MethodGet, "/api/subgroups/"+subGroupID+"/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["templates"].([]any), 2)

	rec = e.do(t, http.MethodDelete, "/api/templates/"+templateID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/subgroups/"+subGroupID+"/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["templates"].([]any), 1)
}

// ============================================================================
// USERS
// ============================================================================

func TestUserEndpoints(t *testing.T) {
	e := setupTestRouter(t)

	rec := e.do(t, http.MethodPost, "/api/users", map[string]any{
		"email":      "ada@example.com",
		"first_name": "Ada",
		"timezone":   "America/New_York",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	userID := decodeBody(t, rec)["id"].(string)

	rec = e.do(t, http.MethodPost, "/api/users", map[string]any{
		"email":    "ada@example.com",
		"timezone": "UTC",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/users", map[string]any{
		"email":    "tz@example.com",
		"timezone": "Mars/Olympus_Mons",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/users/"+userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@example.com", decodeBody(t, rec)["email"])

	rec = e.do(t, http.MethodPatch, "/api/users/"+userID+"/timezone", map[string]any{
		"timezone": "Europe/Berlin",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Europe/Berlin", decodeBody(t, rec)["timezone"])

	rec = e.do(t, http.MethodPatch, "/api/users/"+userID+"/timezone", map[string]any{
		"timezone": "Nowhere/Null",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/users/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================================
// ENROLLMENTS
// ============================================================================

func TestEnrollmentFlow(t *testing.T) {
	e := setupTestRouter(t)
	e.seedOneStageGroup(t, "welcome")
	user := e.seedUser(t, "flow@example.com")

	rec := e.do(t, http.MethodPost, "/api/enrollments", map[string]any{
		"user_id":    user.ID,
		"group_name": "welcome",
		"start_date": "2023-04-10T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	assignment := created["assignment"].(map[string]any)
	assert.Equal(t, "active", assignment["status"])
	assignmentID := assignment["id"].(string)

	// A live enrollment in the same group conflicts.
	rec = e.do(t, http.MethodPost, "/api/enrollments", map[string]any{
		"user_id":    user.ID,
		"group_name": "welcome",
		"start_date": "2023-04-11T00:00:00Z",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/enrollments/"+assignmentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/enrollments/"+assignmentID+"/stages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["stages"].([]any), 1)

	rec = e.do(t, http.MethodGet, "/api/users/"+user.ID+"/enrollments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["enrollments"].([]any), 1)

	rec = e.do(t, http.MethodPost, "/api/enrollments/"+assignmentID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", decodeBody(t, rec)["status"])

	// Pausing twice is an invalid transition.
	rec = e.do(t, http.MethodPost, "/api/enrollments/"+assignmentID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/enrollments/"+assignmentID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decodeBody(t, rec)["status"])

	rec = e.do(t, http.MethodDelete, "/api/enrollments/"+assignmentID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/enrollments/"+assignmentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "canceled", decodeBody(t, rec)["status"])
}

func TestEnrollValidation(t *testing.T) {
	e := setupTestRouter(t)
	user := e.seedUser(t, "lost@example.com")

	rec := e.do(t, http.MethodPost, "/api/enrollments", map[string]any{
		"user_id":    user.ID,
		"group_name": "does-not-exist",
		"start_date": "2023-04-10T00:00:00Z",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e.seedOneStageGroup(t, "real-group")
	rec = e.do(t, http.MethodPost, "/api/enrollments", map[string]any{
		"user_id":    "00000000-0000-0000-0000-000000000000",
		"group_name": "real-group",
		"start_date": "2023-04-10T00:00:00Z",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/enrollments", map[string]any{
		"user_id":    user.ID,
		"group_name": "real-group",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTimelineAndDueDisplays(t *testing.T) {
	e := setupTestRouter(t)
	ctx := context.Background()

	g, err := e.cat.CreateGroup(ctx, catalog.GroupInput{Name: "tips"})
	require.NoError(t, err)
	sg, err := e.cat.AddSubGroup(ctx, catalog.SubGroupInput{
		GroupID:         g.ID,
		Name:            "day-one",
		AssignmentOrder: 1,
	})
	require.NoError(t, err)
	_, err = e.cat.AddActionTemplate(ctx, catalog.TemplateInput{
		SubGroupID:     sg.ID,
		Name:           "note",
		ActionType:     "display_information",
		TimeOfDayLocal: "09:00",
		Body:           "<p>Welcome aboard.</p>",
	})
	require.NoError(t, err)

	user := e.seedUser(t, "tips@example.com")
	_, err = e.sched.Enroll(ctx, scheduling.EnrollInput{
		UserID:    user.ID,
		GroupName: "tips",
		StartDate: time.Date(2023, 4, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/api/users/"+user.ID+"/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["timeline"].([]any), 1)

	// The clock sits at 10:00, past the 09:00 display time, so the first
	// poll claims the instance.
	rec = e.do(t, http.MethodGet, "/api/users/"+user.ID+"/due-displays", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	displays := decodeBody(t, rec)["displays"].([]any)
	require.Len(t, displays, 1)
	assert.Equal(t, "displayed", displays[0].(map[string]any)["status"])

	// Claimed means claimed; the second poll is empty.
	rec = e.do(t, http.MethodGet, "/api/users/"+user.ID+"/due-displays", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["displays"].([]any), 0)
}

// ============================================================================
// DELIVERY TRIAGE
// ============================================================================

// failInstance enrolls a user whose send is already due and burns the single
// enqueue attempt against a failing provider.
func (e *testEnv) failInstance(t *testing.T, groupName, email string) string {
	t.Helper()
	ctx := context.Background()

	e.seedOneStageGroup(t, groupName)
	user := e.seedUser(t, email)
	_, err := e.sched.Enroll(ctx, scheduling.EnrollInput{
		UserID:    user.ID,
		GroupName: groupName,
		StartDate: time.Date(2023, 4, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	e.prov.mu.Lock()
	e.prov.failNext = 1
	e.prov.mu.Unlock()

	items, err := e.del.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	outcome, err := e.del.Dispatch(ctx, items[0])
	require.NoError(t, err)
	require.Equal(t, delivery.OutcomeFailed, outcome)
	return items[0].Instance.ID
}

func TestDeliveryTriage(t *testing.T) {
	e := setupTestRouter(t)
	failedID := e.failInstance(t, "triage", "triage@example.com")

	rec := e.do(t, http.MethodGet, "/api/delivery/failed?status=failed_to_enqueue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	instances := decodeBody(t, rec)["instances"].([]any)
	require.Len(t, instances, 1)
	assert.Equal(t, failedID, instances[0].(map[string]any)["id"])

	// Only failure statuses are queryable here.
	rec = e.do(t, http.MethodGet, "/api/delivery/failed?status=pending", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/delivery/instances/"+failedID+"/redrive", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	fresh := decodeBody(t, rec)
	freshID := fresh["id"].(string)
	assert.NotEqual(t, failedID, freshID)
	assert.Equal(t, "pending", fresh["status"])

	// The failed instance was superseded; redriving it again conflicts.
	rec = e.do(t, http.MethodPost, "/api/delivery/instances/"+failedID+"/redrive", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/delivery/instances/"+freshID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Canceled instances cannot be canceled again.
	rec = e.do(t, http.MethodDelete, "/api/delivery/instances/"+freshID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeliveryFailedDefaults(t *testing.T) {
	e := setupTestRouter(t)

	// No status param defaults to failed_to_send; nothing is failed yet.
	rec := e.do(t, http.MethodGet, "/api/delivery/failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["instances"].([]any), 0)
}

// ============================================================================
// WEBHOOK
// ============================================================================

func TestWebhookRoute(t *testing.T) {
	e := setupTestRouter(t)
	ctx := context.Background()

	e.seedOneStageGroup(t, "hooks")
	user := e.seedUser(t, "hooks@example.com")
	_, err := e.sched.Enroll(ctx, scheduling.EnrollInput{
		UserID:    user.ID,
		GroupName: "hooks",
		StartDate: time.Date(2023, 4, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	items, err := e.del.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	outcome, err := e.del.Dispatch(ctx, items[0])
	require.NoError(t, err)
	require.Equal(t, delivery.OutcomeEnqueued, outcome)

	inner, err := json.Marshal(map[string]any{
		"eventType": "Delivery",
		"mail": map[string]any{
			"messageId": "msg-1",
			"timestamp": "2023-04-10T10:05:00Z",
		},
	})
	require.NoError(t, err)
	envelope := map[string]any{
		"Type":    "Notification",
		"Message": string(inner),
	}

	rec := e.do(t, http.MethodPost, "/webhooks/ses", envelope)
	assert.Equal(t, http.StatusOK, rec.Code)

	applied, deferred, err := e.del.ReconcileStaged(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 0, deferred)

	// Garbage bodies are rejected outright.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ses", bytes.NewBufferString("not json"))
	raw := httptest.NewRecorder()
	e.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}
