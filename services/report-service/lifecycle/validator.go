package lifecycle

import (
	"civic-issue-tracker/services/report-service/models"
)

// Origin identifies who is asking for a transition. A few edges exist only for
// a specific origin so that ordinary operator calls cannot reach them.
type Origin int

const (
	OriginOperator Origin = iota
	OriginClassification
	OriginDuplicate
	OriginAppealRework
)

func (o Origin) String() string {
	switch o {
	case OriginClassification:
		return "classification"
	case OriginDuplicate:
		return "duplicate"
	case OriginAppealRework:
		return "appeal_rework"
	default:
		return "operator"
	}
}

// Prerequisite names a precondition that must hold before an otherwise legal
// edge may be taken.
type Prerequisite string

const (
	PrereqDepartment       Prerequisite = "department_assigned"
	PrereqOfficer          Prerequisite = "officer_assigned"
	PrereqNoOpenAppeals    Prerequisite = "no_open_appeals"
	PrereqAppealableStatus Prerequisite = "appealable_status"
	PrereqReworkReachable  Prerequisite = "rework_reachable"
)

var ordinaryEdges = map[models.Status][]models.Status{
	models.StatusReceived:              {models.StatusPendingClassification, models.StatusAssignedToDepartment},
	models.StatusPendingClassification: {models.StatusClassified, models.StatusAssignedToDepartment},
	models.StatusClassified:            {models.StatusAssignedToDepartment},
	models.StatusAssignedToDepartment:  {models.StatusAssignedToOfficer, models.StatusOnHold},
	models.StatusAssignedToOfficer:     {models.StatusAcknowledged, models.StatusOnHold},
	models.StatusAcknowledged:          {models.StatusInProgress, models.StatusOnHold},
	models.StatusInProgress:            {models.StatusPendingVerification, models.StatusOnHold},
	models.StatusPendingVerification: {
		models.StatusResolved, models.StatusRejected, models.StatusOnHold, models.StatusInProgress,
	},
	models.StatusOnHold: {
		models.StatusAssignedToDepartment, models.StatusAssignedToOfficer, models.StatusAcknowledged,
		models.StatusInProgress, models.StatusPendingVerification,
	},
	models.StatusResolved: {models.StatusClosed, models.StatusReopened},
	models.StatusReopened: {models.StatusInProgress},
}

// originEdges extend ordinaryEdges for one origin only.
var originEdges = map[Origin]map[models.Status][]models.Status{
	OriginClassification: {
		models.StatusReceived: {models.StatusClassified},
	},
	OriginDuplicate: {
		models.StatusReceived:              {models.StatusDuplicate},
		models.StatusPendingClassification: {models.StatusDuplicate},
		models.StatusClassified:            {models.StatusDuplicate},
	},
	OriginAppealRework: {
		models.StatusClosed: {models.StatusReopened},
	},
}

// TransitionContext is everything the validator needs to know about a report
// beyond its current status.
type TransitionContext struct {
	Origin        Origin
	HasDepartment bool
	HasOfficer    bool
	OpenAppeals   int
}

// CanTransition reports whether from -> to is an edge for the given origin.
func CanTransition(from, to models.Status, origin Origin) bool {
	if from == to {
		return false
	}
	for _, s := range ordinaryEdges[from] {
		if s == to {
			return true
		}
	}
	for _, s := range originEdges[origin][from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTargets lists every status reachable from from for the given origin.
func AllowedTargets(from models.Status, origin Origin) []models.Status {
	var out []models.Status
	for _, s := range models.AllStatuses() {
		if CanTransition(from, s, origin) {
			out = append(out, s)
		}
	}
	return out
}

// UnmetPrerequisites enumerates the preconditions of from -> to that c does
// not satisfy. It does not check that the edge exists.
func UnmetPrerequisites(from, to models.Status, c TransitionContext) []Prerequisite {
	var missing []Prerequisite
	switch to {
	case models.StatusAssignedToDepartment:
		if !c.HasDepartment {
			missing = append(missing, PrereqDepartment)
		}
	case models.StatusAssignedToOfficer, models.StatusAcknowledged, models.StatusInProgress:
		if !c.HasOfficer {
			missing = append(missing, PrereqOfficer)
		}
	case models.StatusClosed:
		if from == models.StatusResolved && c.OpenAppeals > 0 {
			missing = append(missing, PrereqNoOpenAppeals)
		}
	}
	return missing
}

// ValidateTransition checks the edge first and its prerequisites second. It
// returns a *TransitionError or a *PrerequisiteError, or nil when allowed.
func ValidateTransition(from, to models.Status, c TransitionContext) error {
	if !CanTransition(from, to, c.Origin) {
		return &TransitionError{Machine: MachineReport, From: string(from), To: string(to)}
	}
	if missing := UnmetPrerequisites(from, to, c); len(missing) > 0 {
		return &PrerequisiteError{Machine: MachineReport, From: string(from), To: string(to), Missing: missing}
	}
	return nil
}

var appealEdges = map[models.AppealStatus][]models.AppealStatus{
	models.AppealSubmitted:   {models.AppealUnderReview, models.AppealWithdrawn},
	models.AppealUnderReview: {models.AppealApproved, models.AppealRejected, models.AppealWithdrawn},
}

// ValidateAppealTransition checks an edge of the appeal machine.
func ValidateAppealTransition(from, to models.AppealStatus) error {
	for _, s := range appealEdges[from] {
		if s == to {
			return nil
		}
	}
	return &TransitionError{Machine: MachineAppeal, From: string(from), To: string(to)}
}

var escalationEdges = map[models.EscalationStatus][]models.EscalationStatus{
	models.EscalationEscalated:    {models.EscalationAcknowledged, models.EscalationDeEscalated},
	models.EscalationAcknowledged: {models.EscalationUnderReview, models.EscalationDeEscalated},
	models.EscalationUnderReview: {
		models.EscalationActionTaken, models.EscalationResolved, models.EscalationDeEscalated,
	},
	models.EscalationActionTaken: {models.EscalationResolved, models.EscalationDeEscalated},
}

// ValidateEscalationTransition checks an edge of the escalation machine.
// Raising the level is not an edge; see Engine.EscalateFurther.
func ValidateEscalationTransition(from, to models.EscalationStatus) error {
	for _, s := range escalationEdges[from] {
		if s == to {
			return nil
		}
	}
	return &TransitionError{Machine: MachineEscalation, From: string(from), To: string(to)}
}

// appealable reports whether a report in its current shape can carry an
// appeal of the given kind.
func appealable(r *models.Report, kind models.AppealKind) bool {
	switch kind {
	case models.AppealClassification:
		return r.Status != models.StatusReceived && r.Status != models.StatusPendingClassification
	case models.AppealAssignment:
		return r.DepartmentID != nil && !r.Status.IsTerminal()
	case models.AppealResolution:
		switch r.Status {
		case models.StatusPendingVerification, models.StatusResolved, models.StatusClosed, models.StatusRejected:
			return true
		}
	}
	return false
}

// reworkReachable reports whether approving a rework appeal could move the
// report from its current status.
func reworkReachable(current models.Status) bool {
	return CanTransition(current, reworkTarget(current), OriginAppealRework)
}

// reworkTarget is where an approved rework appeal sends a report.
func reworkTarget(current models.Status) models.Status {
	if current == models.StatusPendingVerification {
		return models.StatusInProgress
	}
	return models.StatusReopened
}
