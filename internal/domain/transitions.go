package domain

// Closed transition tables. A status change is legal only if it appears
// here; services reject everything else with ErrInvalidTransition. The
// tables cover transitions the core applies on its own or from provider
// events. Operator overrides (redrive) run their own guards and never go
// through these.

var groupAssignmentTransitions = map[GroupAssignmentStatus]map[GroupAssignmentStatus]bool{
	GroupAssignmentActive: {
		GroupAssignmentPaused:    true,
		GroupAssignmentCompleted: true,
		GroupAssignmentCanceled:  true,
	},
	GroupAssignmentPaused: {
		GroupAssignmentActive:   true,
		GroupAssignmentCanceled: true,
	},
}

var subGroupAssignmentTransitions = map[SubGroupAssignmentStatus]map[SubGroupAssignmentStatus]bool{
	SubGroupAssignmentPending: {
		SubGroupAssignmentActive:   true,
		SubGroupAssignmentCanceled: true,
	},
	SubGroupAssignmentActive: {
		SubGroupAssignmentCompleted: true,
		SubGroupAssignmentCanceled:  true,
	},
}

// The delivery chain admits forward jumps (enqueued -> delivered, sent ->
// clicked) because providers batch and reorder callbacks; a stronger signal
// implies the weaker ones. Rank never regresses: lower-ranked events only
// fill DeliveryRecord timestamps, they never move status backwards.
var actionInstanceTransitions = map[ActionInstanceStatus]map[ActionInstanceStatus]bool{
	ActionPending: {
		ActionDisplayed:       true,
		ActionEnqueued:        true,
		ActionFailedToEnqueue: true,
		ActionCanceled:        true,
	},
	ActionEnqueued: {
		ActionSent:         true,
		ActionDelivered:    true,
		ActionOpened:       true,
		ActionClicked:      true,
		ActionFailedToSend: true,
		ActionCanceled:     true,
	},
	ActionSent: {
		ActionDelivered:    true,
		ActionOpened:       true,
		ActionClicked:      true,
		ActionFailedToSend: true,
	},
	ActionDelivered: {
		ActionOpened:  true,
		ActionClicked: true,
	},
	ActionOpened: {
		ActionClicked: true,
	},
}

// CanTransitionGroupAssignment reports whether from -> to is in the table.
func CanTransitionGroupAssignment(from, to GroupAssignmentStatus) bool {
	return groupAssignmentTransitions[from][to]
}

// CanTransitionSubGroupAssignment reports whether from -> to is in the table.
func CanTransitionSubGroupAssignment(from, to SubGroupAssignmentStatus) bool {
	return subGroupAssignmentTransitions[from][to]
}

// CanTransitionActionInstance reports whether from -> to is in the table.
func CanTransitionActionInstance(from, to ActionInstanceStatus) bool {
	return actionInstanceTransitions[from][to]
}

// DeliveryRank orders the send_message success chain for monotone
// advancement. Statuses off the chain rank -1.
func DeliveryRank(s ActionInstanceStatus) int {
	switch s {
	case ActionPending:
		return 0
	case ActionEnqueued:
		return 1
	case ActionSent:
		return 2
	case ActionDelivered:
		return 3
	case ActionOpened:
		return 4
	case ActionClicked:
		return 5
	}
	return -1
}

// InstanceStatus maps a provider event to the instance status it implies.
// The bool is false for event types that carry no status change.
func (t DeliveryEventType) InstanceStatus() (ActionInstanceStatus, bool) {
	switch t {
	case DeliveryEventSent:
		return ActionSent, true
	case DeliveryEventDelivered:
		return ActionDelivered, true
	case DeliveryEventOpened:
		return ActionOpened, true
	case DeliveryEventClicked:
		return ActionClicked, true
	case DeliveryEventFailed:
		return ActionFailedToSend, true
	}
	return "", false
}
