package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. REQUESTING exists only inside an open
// enrollment transaction; committed rows carry one of the other states.
const (
	EnrollmentStatusRequesting      EnrollmentStatus = "REQUESTING"
	EnrollmentStatusEnrolled        EnrollmentStatus = "ENROLLED"
	EnrollmentStatusWaitlisted      EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusDropped         EnrollmentStatus = "DROPPED"
	EnrollmentStatusCompletedPassed EnrollmentStatus = "COMPLETED_PASSED"
	EnrollmentStatusCompletedFailed EnrollmentStatus = "COMPLETED_FAILED"
)

// Live reports whether the status counts against the one-live-record
// per (student, section) uniqueness rule.
func (s EnrollmentStatus) Live() bool {
	return s != EnrollmentStatusDropped && s != ""
}

// Completed reports whether the enrollment reached a completed-* state.
func (s EnrollmentStatus) Completed() bool {
	return s == EnrollmentStatusCompletedPassed || s == EnrollmentStatusCompletedFailed
}

// Enrollment captures a student's seat (or waitlist slot) in a section.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	SectionID   string           `db:"section_id" json:"section_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	RequestedAt time.Time        `db:"requested_at" json:"requested_at"`
	ApprovedAt  *time.Time       `db:"approved_at" json:"approved_at,omitempty"`
	DroppedAt   *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and section info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	StudentNo   string `db:"student_no" json:"student_no"`
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseName  string `db:"course_name" json:"course_name"`
	SectionCode string `db:"section_code" json:"section_code"`
	TermCode    string `db:"term_code" json:"term_code"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	SectionID string
	TermID    string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// SectionLoad holds a section's in-transaction seat counters.
type SectionLoad struct {
	SectionID        string `db:"section_id" json:"section_id"`
	Capacity         int    `db:"capacity" json:"capacity"`
	WaitlistCapacity int    `db:"waitlist_capacity" json:"waitlist_capacity"`
	Enrolled         int    `db:"enrolled" json:"enrolled"`
	Waitlisted       int    `db:"waitlisted" json:"waitlisted"`
}

// SeatsLeft returns remaining regular seats.
func (l SectionLoad) SeatsLeft() int { return l.Capacity - l.Enrolled }

// WaitlistLeft returns remaining waitlist slots.
func (l SectionLoad) WaitlistLeft() int { return l.WaitlistCapacity - l.Waitlisted }

// Rule identifies one enrollment business rule.
type Rule string

// Blocking rules an enrollment request can violate.
const (
	RulePrerequisite Rule = "prerequisite"
	RuleTimeConflict Rule = "time_conflict"
	RuleCreditLoad   Rule = "credit_load"
	RuleCapacity     Rule = "capacity"
	RuleDuplicate    Rule = "duplicate"
	RuleSectionState Rule = "section_state"
)

// Decision is the outcome class of an enrollment request.
type Decision string

const (
	DecisionEnrolled   Decision = "ENROLLED"
	DecisionWaitlisted Decision = "WAITLISTED"
	DecisionRejected   Decision = "REJECTED"
)

// EnrollmentOutcome is returned by the enrollment engine. Rejections are
// not persisted; Enrollment is set only for enrolled/waitlisted outcomes.
type EnrollmentOutcome struct {
	Decision   Decision    `json:"decision"`
	Rule       Rule        `json:"rule,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Enrollment *Enrollment `json:"enrollment,omitempty"`
}

// Rejected reports whether the request was turned down.
func (o EnrollmentOutcome) Rejected() bool { return o.Decision == DecisionRejected }
