package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/service/delivery"
)

func TestDeliveryRepo_ClaimDueJoinsUserAndTemplate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Date(2023, 4, 10, 10, 0, 0, 0, time.UTC)
	lease := time.Minute
	due := now.Add(-time.Hour)
	created := now.Add(-24 * time.Hour)
	cols := []string{
		"id", "user_id", "action_template_id", "subgroup_assignment_id", "action_type",
		"action_datetime", "status", "attempts", "next_attempt_at", "last_error",
		"created_at", "updated_at",
		"u_id", "email", "first_name", "last_name", "timezone", "u_created_at", "u_updated_at",
		"t_id", "subgroup_id", "t_name", "t_action_type", "action_datetime_days_offset",
		"time_of_day_local", "subject", "body", "t_status", "t_created_at", "t_updated_at",
	}
	mock.ExpectQuery("WITH claimed AS").
		WithArgs(now, now.Add(lease), 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("i-1", "u-1", "t-1", "sa-1", "send_message",
				due, "pending", 0, now.Add(lease), "",
				created, now,
				"u-1", "ada@example.com", "Ada", "Lovelace", "UTC", created, created,
				"t-1", "sg-1", "reminder", "send_message", 0,
				"09:00", "Hi {{ first_name }}", "Body", "active", created, created))

	repo := NewDeliveryRepo(db)
	items, err := repo.ClaimDue(context.Background(), now, lease, 10)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	item := items[0]
	if item.Instance.ID != "i-1" {
		t.Errorf("Instance.ID = %q, want i-1", item.Instance.ID)
	}
	if item.Instance.NextAttemptAt == nil || !item.Instance.NextAttemptAt.Equal(now.Add(lease)) {
		t.Errorf("NextAttemptAt = %v, want lease expiry %v", item.Instance.NextAttemptAt, now.Add(lease))
	}
	if item.User.Email != "ada@example.com" {
		t.Errorf("User.Email = %q, want ada@example.com", item.User.Email)
	}
	if item.Template.TimeOfDayLocal.Hour != 9 || item.Template.TimeOfDayLocal.Minute != 0 {
		t.Errorf("Template.TimeOfDayLocal = %v, want 09:00", item.Template.TimeOfDayLocal)
	}
	if item.Template.Subject != "Hi {{ first_name }}" {
		t.Errorf("Template.Subject = %q", item.Template.Subject)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeliveryRepo_MarkEnqueuedWritesRecordInOneTx(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	enqueued := time.Date(2023, 4, 10, 10, 0, 0, 0, time.UTC)
	scheduled := enqueued.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sched_action_instances").
		WithArgs(1, "i-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sched_delivery_records").
		WithArgs("r-1", "i-1", "ses", "msg-123", enqueued, scheduled).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repo := NewDeliveryRepo(db)
	err := repo.MarkEnqueued(context.Background(), "i-1", 1, &domain.DeliveryRecord{
		ID: "r-1", ActionInstanceID: "i-1", Provider: "ses", CorrelationID: "msg-123",
		EnqueuedAt: enqueued, ScheduledAt: scheduled,
	})
	if err != nil {
		t.Fatalf("MarkEnqueued() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeliveryRepo_MarkEnqueuedStaleInstance(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// The instance left pending (canceled mid-flight): no record row may be
	// written and the whole transaction rolls back.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sched_action_instances").
		WithArgs(1, "i-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repo := NewDeliveryRepo(db)
	err := repo.MarkEnqueued(context.Background(), "i-1", 1, &domain.DeliveryRecord{
		ID: "r-1", ActionInstanceID: "i-1", Provider: "ses", CorrelationID: "msg-123",
	})
	if err != delivery.ErrNotFound {
		t.Errorf("MarkEnqueued() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeliveryRepo_ScheduleRetryOnlyTouchesPending(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	next := time.Date(2023, 4, 10, 10, 0, 30, 0, time.UTC)
	mock.ExpectExec("UPDATE sched_action_instances").
		WithArgs(2, next, "provider unavailable", "i-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewDeliveryRepo(db)
	err := repo.ScheduleRetry(context.Background(), "i-1", 2, next, "provider unavailable")
	if err != delivery.ErrNotFound {
		t.Errorf("ScheduleRetry() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeliveryRepo_TransitionInstanceClearsScheduleOnCancel(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("next_attempt_at = NULL").
		WithArgs(domain.ActionCanceled, "i-1", domain.ActionPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewDeliveryRepo(db)
	err := repo.TransitionInstance(context.Background(), "i-1", domain.ActionPending, domain.ActionCanceled)
	if err != nil {
		t.Fatalf("TransitionInstance() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeliveryRepo_RecordEventTimestamp(t *testing.T) {
	at := time.Date(2023, 4, 10, 10, 5, 0, 0, time.UTC)

	t.Run("delivered uses first-occurrence coalesce", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()

		mock.ExpectExec("SET delivered_at = COALESCE").
			WithArgs(at, "r-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		repo := NewDeliveryRepo(db)
		err := repo.RecordEventTimestamp(context.Background(), "r-1", domain.DeliveryEventDelivered, at, "")
		if err != nil {
			t.Fatalf("RecordEventTimestamp() error = %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("failed carries the reason", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()

		mock.ExpectExec("SET failed_at = COALESCE").
			WithArgs(at, "mailbox full", "r-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		repo := NewDeliveryRepo(db)
		err := repo.RecordEventTimestamp(context.Background(), "r-1", domain.DeliveryEventFailed, at, "mailbox full")
		if err != nil {
			t.Fatalf("RecordEventTimestamp() error = %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("unknown event type never reaches the database", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()

		repo := NewDeliveryRepo(db)
		err := repo.RecordEventTimestamp(context.Background(), "r-1", domain.DeliveryEventType("bogus"), at, "")
		if err == nil {
			t.Error("RecordEventTimestamp() expected error for unknown event type")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("missing record maps to not found", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()

		mock.ExpectExec("SET opened_at = COALESCE").
			WithArgs(at, "r-missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		repo := NewDeliveryRepo(db)
		err := repo.RecordEventTimestamp(context.Background(), "r-missing", domain.DeliveryEventOpened, at, "")
		if err != delivery.ErrNotFound {
			t.Errorf("RecordEventTimestamp() error = %v, want ErrNotFound", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})
}

func TestDeliveryRepo_StageEventCoercesEmptyPayload(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	received := time.Date(2023, 4, 10, 10, 5, 0, 0, time.UTC)
	at := received.Add(-time.Second)
	mock.ExpectQuery("INSERT INTO sched_delivery_events").
		WithArgs("ses", "msg-123", domain.DeliveryEventDelivered, at, "{}", received).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	repo := NewDeliveryRepo(db)
	ev := &domain.DeliveryEvent{
		Provider: "ses", CorrelationID: "msg-123", EventType: domain.DeliveryEventDelivered,
		EventTimestamp: at, ReceivedAt: received,
	}
	if err := repo.StageEvent(context.Background(), ev); err != nil {
		t.Fatalf("StageEvent() error = %v", err)
	}
	if ev.ID != 9 {
		t.Errorf("ev.ID = %d, want 9", ev.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeliveryRepo_MarkEventProcessedNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE sched_delivery_events").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewDeliveryRepo(db)
	if err := repo.MarkEventProcessed(context.Background(), 42); err != delivery.ErrNotFound {
		t.Errorf("MarkEventProcessed() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
