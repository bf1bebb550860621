package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/repository/memory"
	"github.com/meridian/cohort-scheduler/internal/service/catalog"
)

func newService() *catalog.Service {
	return catalog.NewService(memory.NewStore())
}

func mustGroup(t *testing.T, svc *catalog.Service, name string) *domain.Group {
	t.Helper()
	g, err := svc.CreateGroup(context.Background(), catalog.GroupInput{Name: name})
	if err != nil {
		t.Fatalf("create group %s: %v", name, err)
	}
	return g
}

func mustSubGroup(t *testing.T, svc *catalog.Service, groupID string, order int) *domain.SubGroup {
	t.Helper()
	sg, err := svc.AddSubGroup(context.Background(), catalog.SubGroupInput{
		GroupID: groupID, Name: "stage", AssignmentOrder: order,
	})
	if err != nil {
		t.Fatalf("add subgroup order %d: %v", order, err)
	}
	return sg
}

func intPtr(n int) *int { return &n }

// ============================================================================
// GROUPS
// ============================================================================

func TestCreateGroupDefaults(t *testing.T) {
	svc := newService()

	g, err := svc.CreateGroup(context.Background(), catalog.GroupInput{Name: "onboarding"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if g.Version != 1 {
		t.Errorf("version = %d, want 1", g.Version)
	}
	if g.Status != domain.GroupActive {
		t.Errorf("status = %s, want active", g.Status)
	}
	if g.DisplayName != "onboarding" {
		t.Errorf("display name should fall back to name, got %q", g.DisplayName)
	}

	if _, err := svc.CreateGroup(context.Background(), catalog.GroupInput{}); !errors.Is(err, catalog.ErrValidation) {
		t.Errorf("empty name: err = %v, want ErrValidation", err)
	}
	if _, err := svc.CreateGroup(context.Background(), catalog.GroupInput{Name: "onboarding"}); !errors.Is(err, catalog.ErrNameTaken) {
		t.Errorf("duplicate name: err = %v, want ErrNameTaken", err)
	}
}

func TestSupersedeGroup(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	v1 := mustGroup(t, svc, "welcome")

	v2, err := svc.SupersedeGroup(ctx, "welcome", catalog.GroupInput{Description: "rework"})
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if v2.Version != 2 {
		t.Errorf("replacement version = %d, want 2", v2.Version)
	}
	if v2.DisplayName != v1.DisplayName {
		t.Errorf("replacement display name = %q, want inherited %q", v2.DisplayName, v1.DisplayName)
	}

	// The old version is retired and points at its successor.
	old, err := svc.GetGroup(ctx, v1.ID)
	if err != nil {
		t.Fatalf("get old version: %v", err)
	}
	if old.Status != domain.GroupInactive {
		t.Errorf("old status = %s, want inactive", old.Status)
	}
	if old.SupersededBy == nil || *old.SupersededBy != v2.ID {
		t.Errorf("old superseded_by = %v, want %s", old.SupersededBy, v2.ID)
	}

	active, err := svc.ActiveGroupByName(ctx, "welcome")
	if err != nil {
		t.Fatalf("active by name: %v", err)
	}
	if active.ID != v2.ID {
		t.Errorf("active version = %s, want %s", active.ID, v2.ID)
	}

	versions, err := svc.ListGroupVersions(ctx, "welcome")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(versions))
	}
	if versions[0].Version != 2 || versions[1].Version != 1 {
		t.Errorf("versions not newest-first: %d, %d", versions[0].Version, versions[1].Version)
	}

	if _, err := svc.SupersedeGroup(ctx, "never-existed", catalog.GroupInput{}); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("supersede unknown name: err = %v, want ErrNotFound", err)
	}
}

// ============================================================================
// SUBGROUPS
// ============================================================================

func TestAddSubGroupValidation(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	g := mustGroup(t, svc, "journey")

	cases := []struct {
		name  string
		input catalog.SubGroupInput
		want  error
	}{
		{"missing group id", catalog.SubGroupInput{AssignmentOrder: 1}, catalog.ErrValidation},
		{"zero order", catalog.SubGroupInput{GroupID: g.ID}, catalog.ErrValidation},
		{"negative offset", catalog.SubGroupInput{GroupID: g.ID, AssignmentOrder: 1, StartDateDaysOffset: -1}, catalog.ErrValidation},
		{"day of week too large", catalog.SubGroupInput{GroupID: g.ID, AssignmentOrder: 1, StartDateDayOfWeek: intPtr(7)}, catalog.ErrValidation},
		{"unknown group", catalog.SubGroupInput{GroupID: "nope", AssignmentOrder: 1}, catalog.ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := svc.AddSubGroup(ctx, tc.input); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	sg, err := svc.AddSubGroup(ctx, catalog.SubGroupInput{
		GroupID: g.ID, Name: "week-one", AssignmentOrder: 1, StartDateDayOfWeek: intPtr(1),
	})
	if err != nil {
		t.Fatalf("valid subgroup: %v", err)
	}
	if sg.StartDateDayOfWeek == nil || *sg.StartDateDayOfWeek != 1 {
		t.Errorf("day of week = %v, want Monday", sg.StartDateDayOfWeek)
	}
}

func TestSubGroupOrderUniqueness(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	g := mustGroup(t, svc, "journey")
	first := mustSubGroup(t, svc, g.ID, 1)

	if _, err := svc.AddSubGroup(ctx, catalog.SubGroupInput{
		GroupID: g.ID, Name: "other", AssignmentOrder: 1,
	}); !errors.Is(err, catalog.ErrOrderTaken) {
		t.Fatalf("duplicate order: err = %v, want ErrOrderTaken", err)
	}

	// A retired stage frees its slot.
	if err := svc.DeactivateSubGroup(ctx, first.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.AddSubGroup(ctx, catalog.SubGroupInput{
		GroupID: g.ID, Name: "replacement", AssignmentOrder: 1,
	}); err != nil {
		t.Fatalf("order after deactivation: %v", err)
	}

	if err := svc.DeactivateSubGroup(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("deactivate unknown: err = %v, want ErrNotFound", err)
	}
}

func TestListActiveSubGroupsOrder(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	g := mustGroup(t, svc, "journey")
	mustSubGroup(t, svc, g.ID, 3)
	mustSubGroup(t, svc, g.ID, 1)
	mustSubGroup(t, svc, g.ID, 2)

	stages, err := svc.ListActiveSubGroups(ctx, g.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(stages))
	}
	for i, sg := range stages {
		if sg.AssignmentOrder != i+1 {
			t.Errorf("stages[%d].AssignmentOrder = %d, want %d", i, sg.AssignmentOrder, i+1)
		}
	}
}

// ============================================================================
// ACTION TEMPLATES
// ============================================================================

func TestAddActionTemplateValidation(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	g := mustGroup(t, svc, "notices")
	sg := mustSubGroup(t, svc, g.ID, 1)

	cases := []struct {
		name  string
		input catalog.TemplateInput
		want  error
	}{
		{"missing subgroup", catalog.TemplateInput{ActionType: "send_message", TimeOfDayLocal: "09:00", Subject: "s", Body: "b"}, catalog.ErrValidation},
		{"unknown action type", catalog.TemplateInput{SubGroupID: sg.ID, ActionType: "carrier_pigeon", TimeOfDayLocal: "09:00"}, catalog.ErrValidation},
		{"negative day offset", catalog.TemplateInput{SubGroupID: sg.ID, ActionType: "display_information", ActionDatetimeDaysOffset: -2, TimeOfDayLocal: "09:00"}, catalog.ErrValidation},
		{"bad time of day", catalog.TemplateInput{SubGroupID: sg.ID, ActionType: "display_information", TimeOfDayLocal: "25:99"}, catalog.ErrValidation},
		{"send without subject", catalog.TemplateInput{SubGroupID: sg.ID, ActionType: "send_message", TimeOfDayLocal: "09:00", Body: "b"}, catalog.ErrValidation},
		{"send without body", catalog.TemplateInput{SubGroupID: sg.ID, ActionType: "send_message", TimeOfDayLocal: "09:00", Subject: "s"}, catalog.ErrValidation},
		{"unknown subgroup", catalog.TemplateInput{SubGroupID: "nope", ActionType: "display_information", TimeOfDayLocal: "09:00"}, catalog.ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := svc.AddActionTemplate(ctx, tc.input); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	// Display templates need no subject or body.
	tpl, err := svc.AddActionTemplate(ctx, catalog.TemplateInput{
		SubGroupID: sg.ID, Name: "note", ActionType: "display_information", TimeOfDayLocal: "08:15",
	})
	if err != nil {
		t.Fatalf("display template: %v", err)
	}
	if tpl.TimeOfDayLocal.String() != "08:15" {
		t.Errorf("time of day = %s, want 08:15", tpl.TimeOfDayLocal)
	}
	if tpl.Status != domain.ActionTemplateActive {
		t.Errorf("status = %s, want active", tpl.Status)
	}
}

func TestListActiveTemplatesOrder(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	g := mustGroup(t, svc, "notices")
	sg := mustSubGroup(t, svc, g.ID, 1)

	add := func(name string, day int, tod string) *domain.ActionTemplate {
		t.Helper()
		tpl, err := svc.AddActionTemplate(ctx, catalog.TemplateInput{
			SubGroupID: sg.ID, Name: name, ActionType: "display_information",
			ActionDatetimeDaysOffset: day, TimeOfDayLocal: tod,
		})
		if err != nil {
			t.Fatalf("add template %s: %v", name, err)
		}
		return tpl
	}

	add("later-day", 2, "08:00")
	early := add("early", 0, "09:00")
	add("same-day-later", 0, "18:00")

	list, err := svc.ListActiveTemplates(ctx, sg.ID)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("templates = %d, want 3", len(list))
	}
	if list[0].Name != "early" || list[1].Name != "same-day-later" || list[2].Name != "later-day" {
		t.Errorf("order = [%s %s %s], want [early same-day-later later-day]",
			list[0].Name, list[1].Name, list[2].Name)
	}

	if err := svc.DeactivateActionTemplate(ctx, early.ID); err != nil {
		t.Fatalf("deactivate template: %v", err)
	}
	list, err = svc.ListActiveTemplates(ctx, sg.ID)
	if err != nil {
		t.Fatalf("list after deactivate: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("templates after deactivate = %d, want 2", len(list))
	}

	if err := svc.DeactivateActionTemplate(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("deactivate unknown template: err = %v, want ErrNotFound", err)
	}
}
