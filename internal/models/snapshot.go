package models

// CourseRecord is one row of a student's per-course history, carrying
// the best recorded grade points for that course if any.
type CourseRecord struct {
	CourseID    string           `db:"course_id" json:"course_id"`
	CourseCode  string           `db:"course_code" json:"course_code"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	GradePoints *float64         `db:"grade_points" json:"grade_points,omitempty"`
}

// PlannedSection is a section the student already holds in the target
// term (live or completed), with what the validators need to know.
type PlannedSection struct {
	SectionID string           `db:"section_id" json:"section_id"`
	CourseID  string           `db:"course_id" json:"course_id"`
	Credits   float64          `db:"credits" json:"credits"`
	Status    EnrollmentStatus `db:"status" json:"status"`
	Meetings  []MeetingTime    `json:"meetings,omitempty"`
}

// EnrollmentSnapshot is the consistent read the rule validators run
// against. All fields are loaded inside the same transaction that will
// commit the state change.
type EnrollmentSnapshot struct {
	Student   Student
	Section   SectionDetail
	Prereqs   []CoursePrerequisite
	History   []CourseRecord
	Planned   []PlannedSection
	Overrides []Override
}

// OverrideFor returns the first active override of the given type, or nil.
func (s *EnrollmentSnapshot) OverrideFor(t OverrideType) *Override {
	for i := range s.Overrides {
		if s.Overrides[i].Type == t {
			return &s.Overrides[i]
		}
	}
	return nil
}
