// Package memory provides a mutex-guarded in-memory store implementing
// every service repository interface with the same uniqueness and
// compare-and-set semantics as the PostgreSQL implementation. Service
// tests run against it; it is also handy for local spikes without a
// database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/service/catalog"
)

// Store holds everything in maps guarded by one RWMutex. Multi-row
// operations hold the write lock for their whole span, which is the
// in-memory equivalent of a transaction.
type Store struct {
	mu sync.RWMutex

	users       map[string]*domain.User
	groups      map[string]*domain.Group
	subgroups   map[string]*domain.SubGroup
	templates   map[string]*domain.ActionTemplate
	enrollments map[string]*domain.GroupAssignment
	stages      map[string]*domain.SubGroupAssignment
	instances   map[string]*domain.ActionInstance
	records     map[string]*domain.DeliveryRecord
	events      []*domain.DeliveryEvent
	eventSeq    int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]*domain.User),
		groups:      make(map[string]*domain.Group),
		subgroups:   make(map[string]*domain.SubGroup),
		templates:   make(map[string]*domain.ActionTemplate),
		enrollments: make(map[string]*domain.GroupAssignment),
		stages:      make(map[string]*domain.SubGroupAssignment),
		instances:   make(map[string]*domain.ActionInstance),
		records:     make(map[string]*domain.DeliveryRecord),
	}
}

var _ catalog.Repository = (*Store)(nil)

func nowUTC() time.Time { return time.Now().UTC() }

// CreateGroup inserts a group version, rejecting a second active version
// of the same name.
func (s *Store) CreateGroup(_ context.Context, g *domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups {
		if existing.Name == g.Name && existing.Status == domain.GroupActive {
			return catalog.ErrNameTaken
		}
	}
	cp := *g
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = nowUTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.groups[cp.ID] = &cp
	return nil
}

// GetGroup returns any group version by id.
func (s *Store) GetGroup(_ context.Context, id string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

// ActiveGroupByName returns the active version of a named group.
func (s *Store) ActiveGroupByName(_ context.Context, name string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, err := s.activeGroupLocked(name)
	if err != nil {
		return nil, catalog.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *Store) activeGroupLocked(name string) (*domain.Group, error) {
	for _, g := range s.groups {
		if g.Name == name && g.Status == domain.GroupActive {
			return g, nil
		}
	}
	return nil, catalog.ErrNotFound
}

// SupersedeGroup swaps the active version of a group for its replacement.
func (s *Store) SupersedeGroup(_ context.Context, oldID string, replacement *domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.groups[oldID]
	if !ok || old.Status != domain.GroupActive {
		return catalog.ErrNotFound
	}

	cp := *replacement
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = nowUTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.groups[cp.ID] = &cp

	old.Status = domain.GroupInactive
	old.SupersededBy = &cp.ID
	old.UpdatedAt = nowUTC()
	return nil
}

// ListGroupVersions returns all versions of a named group, newest first.
func (s *Store) ListGroupVersions(_ context.Context, name string) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Group
	for _, g := range s.groups {
		if g.Name == name {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// CreateSubGroup inserts a subgroup, rejecting duplicate assignment orders
// among the group's active subgroups.
func (s *Store) CreateSubGroup(_ context.Context, sg *domain.SubGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[sg.GroupID]; !ok {
		return catalog.ErrNotFound
	}
	for _, existing := range s.subgroups {
		if existing.GroupID == sg.GroupID &&
			existing.Status == domain.SubGroupActive &&
			existing.AssignmentOrder == sg.AssignmentOrder {
			return catalog.ErrOrderTaken
		}
	}
	cp := *sg
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = nowUTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.subgroups[cp.ID] = &cp
	return nil
}

// GetSubGroup returns a subgroup by id.
func (s *Store) GetSubGroup(_ context.Context, id string) (*domain.SubGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sg, ok := s.subgroups[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *sg
	return &cp, nil
}

// ListActiveSubGroups returns a group's active subgroups in assignment
// order.
func (s *Store) ListActiveSubGroups(_ context.Context, groupID string) ([]domain.SubGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeSubGroupsLocked(groupID), nil
}

func (s *Store) activeSubGroupsLocked(groupID string) []domain.SubGroup {
	var out []domain.SubGroup
	for _, sg := range s.subgroups {
		if sg.GroupID == groupID && sg.Status == domain.SubGroupActive {
			out = append(out, *sg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignmentOrder < out[j].AssignmentOrder })
	return out
}

// DeactivateSubGroup marks a subgroup inactive.
func (s *Store) DeactivateSubGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sg, ok := s.subgroups[id]
	if !ok {
		return catalog.ErrNotFound
	}
	sg.Status = domain.SubGroupInactive
	sg.UpdatedAt = nowUTC()
	return nil
}

// CreateActionTemplate inserts a template.
func (s *Store) CreateActionTemplate(_ context.Context, t *domain.ActionTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subgroups[t.SubGroupID]; !ok {
		return catalog.ErrNotFound
	}
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = nowUTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.templates[cp.ID] = &cp
	return nil
}

// GetActionTemplate returns a template by id.
func (s *Store) GetActionTemplate(_ context.Context, id string) (*domain.ActionTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListActiveTemplates returns a subgroup's active templates ordered by day
// offset, then time of day.
func (s *Store) ListActiveTemplates(_ context.Context, subGroupID string) ([]domain.ActionTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTemplatesLocked(subGroupID), nil
}

func (s *Store) activeTemplatesLocked(subGroupID string) []domain.ActionTemplate {
	var out []domain.ActionTemplate
	for _, t := range s.templates {
		if t.SubGroupID == subGroupID && t.Status == domain.ActionTemplateActive {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActionDatetimeDaysOffset != out[j].ActionDatetimeDaysOffset {
			return out[i].ActionDatetimeDaysOffset < out[j].ActionDatetimeDaysOffset
		}
		ti := out[i].TimeOfDayLocal.Hour*60 + out[i].TimeOfDayLocal.Minute
		tj := out[j].TimeOfDayLocal.Hour*60 + out[j].TimeOfDayLocal.Minute
		return ti < tj
	})
	return out
}

// DeactivateActionTemplate marks a template inactive.
func (s *Store) DeactivateActionTemplate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok {
		return catalog.ErrNotFound
	}
	t.Status = domain.ActionTemplateInactive
	t.UpdatedAt = nowUTC()
	return nil
}
