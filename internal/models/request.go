package models

import "time"

// RequestType categorises student exception requests.
type RequestType string

const (
	RequestTypeRetake         RequestType = "RETAKE"
	RequestTypeCrossCollege   RequestType = "CROSS_COLLEGE"
	RequestTypeCreditOverload RequestType = "CREDIT_OVERLOAD"
	RequestTypeCapacity       RequestType = "CAPACITY"
	RequestTypeTimeConflict   RequestType = "TIME_CONFLICT"
)

// RequestStatus is the approval state of a student request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// StudentRequest is one exception petition. A decided request never
// changes again; re-approval means a new request.
type StudentRequest struct {
	ID        string        `db:"id" json:"id"`
	StudentID string        `db:"student_id" json:"student_id"`
	SectionID *string       `db:"section_id" json:"section_id,omitempty"`
	TermID    string        `db:"term_id" json:"term_id"`
	Type      RequestType   `db:"type" json:"type"`
	Status    RequestStatus `db:"status" json:"status"`
	Reason    string        `db:"reason" json:"reason"`
	DecidedBy *string       `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt *time.Time    `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// OverrideType names the blocking rule an override suppresses.
type OverrideType string

const (
	OverrideTypeCapacity       OverrideType = "capacity"
	OverrideTypePrerequisite   OverrideType = "prerequisite"
	OverrideTypeTimeConflict   OverrideType = "time_conflict"
	OverrideTypeCreditOverload OverrideType = "credit_overload"
)

// OverrideForRequest maps an approved request type to the override it
// produces. The second return is false when no override applies
// (cross-college requests unblock nothing by themselves).
func OverrideForRequest(t RequestType) (OverrideType, bool) {
	switch t {
	case RequestTypeRetake:
		return OverrideTypePrerequisite, true
	case RequestTypeCreditOverload:
		return OverrideTypeCreditOverload, true
	case RequestTypeCapacity:
		return OverrideTypeCapacity, true
	case RequestTypeTimeConflict:
		return OverrideTypeTimeConflict, true
	default:
		return "", false
	}
}

// Override is an immutable, admin-approved exception scoped to a
// student plus either a section or a term. The enrollment engine reads
// overrides, never writes them.
type Override struct {
	ID         string       `db:"id" json:"id"`
	StudentID  string       `db:"student_id" json:"student_id"`
	SectionID  *string      `db:"section_id" json:"section_id,omitempty"`
	TermID     *string      `db:"term_id" json:"term_id,omitempty"`
	Type       OverrideType `db:"type" json:"type"`
	RequestID  *string      `db:"request_id" json:"request_id,omitempty"`
	ApprovedBy string       `db:"approved_by" json:"approved_by"`
	ApprovedAt time.Time    `db:"approved_at" json:"approved_at"`
	Reason     string       `db:"reason" json:"reason"`
}

// ApprovalAction is one step of the request workflow.
type ApprovalAction string

const (
	ApprovalActionSubmitted ApprovalAction = "SUBMITTED"
	ApprovalActionApproved  ApprovalAction = "APPROVED"
	ApprovalActionRejected  ApprovalAction = "REJECTED"
)

// ApprovalLog is the append-only audit trail of the workflow, one row
// per action.
type ApprovalLog struct {
	ID        string         `db:"id" json:"id"`
	RequestID string         `db:"request_id" json:"request_id"`
	Action    ApprovalAction `db:"action" json:"action"`
	ActorID   string         `db:"actor_id" json:"actor_id"`
	Note      string         `db:"note" json:"note"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// RequestFilter provides filters for listing student requests.
type RequestFilter struct {
	StudentID string
	SectionID string
	Status    RequestStatus
	Type      RequestType
	Page      int
	PageSize  int
}
