package domain

import "testing"

func TestParseTimeOfDay(t *testing.T) {
	good := map[string]TimeOfDay{
		"09:30": {Hour: 9, Minute: 30},
		"00:00": {Hour: 0, Minute: 0},
		"23:59": {Hour: 23, Minute: 59},
	}
	for in, want := range good {
		got, err := ParseTimeOfDay(in)
		if err != nil {
			t.Fatalf("ParseTimeOfDay(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseTimeOfDay(%q) = %+v, want %+v", in, got, want)
		}
	}

	for _, in := range []string{"24:00", "12:60", "-1:00", "noon", ""} {
		if _, err := ParseTimeOfDay(in); err == nil {
			t.Errorf("ParseTimeOfDay(%q) should fail", in)
		}
	}

	if s := (TimeOfDay{Hour: 7, Minute: 5}).String(); s != "07:05" {
		t.Errorf("String() = %q, want 07:05", s)
	}
}

func TestActionInstanceDone(t *testing.T) {
	done := []ActionInstanceStatus{
		ActionSent, ActionDelivered, ActionOpened, ActionClicked,
		ActionDisplayed, ActionFailedToEnqueue, ActionFailedToSend, ActionCanceled,
	}
	for _, s := range done {
		if !(&ActionInstance{Status: s}).IsDone() {
			t.Errorf("%s should count as done", s)
		}
	}
	for _, s := range []ActionInstanceStatus{ActionPending, ActionEnqueued} {
		if (&ActionInstance{Status: s}).IsDone() {
			t.Errorf("%s should not count as done", s)
		}
	}
}
