package models

import "time"

// College is a top-level academic unit.
type College struct {
	ID   string `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
}

// Department belongs to a college and offers courses.
type Department struct {
	ID        string `db:"id" json:"id"`
	CollegeID string `db:"college_id" json:"college_id"`
	Code      string `db:"code" json:"code"`
	Name      string `db:"name" json:"name"`
}

// Major is a degree program administered by a department.
type Major struct {
	ID              string `db:"id" json:"id"`
	DepartmentID    string `db:"department_id" json:"department_id"`
	Code            string `db:"code" json:"code"`
	Name            string `db:"name" json:"name"`
	RequiredCredits int    `db:"required_credits" json:"required_credits"`
}

// Term models an academic term in the registrar calendar.
type Term struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
}

// CourseType categorises courses in the catalog.
type CourseType string

const (
	CourseTypeGeneralRequired    CourseType = "GENERAL_REQUIRED"
	CourseTypeMajorRequired      CourseType = "MAJOR_REQUIRED"
	CourseTypeMajorElective      CourseType = "MAJOR_ELECTIVE"
	CourseTypeUniversityElective CourseType = "UNIVERSITY_ELECTIVE"
	CourseTypePractical          CourseType = "PRACTICAL"
)

// Course is an immutable catalog entry; sections reference it by ID.
// Deactivation happens through the active flag, never deletion.
type Course struct {
	ID           string     `db:"id" json:"id"`
	DepartmentID string     `db:"department_id" json:"department_id"`
	Code         string     `db:"code" json:"code"`
	Name         string     `db:"name" json:"name"`
	Credits      float64    `db:"credits" json:"credits"`
	Type         CourseType `db:"type" json:"type"`
	Active       bool       `db:"active" json:"active"`
}

// Instructor teaches course sections.
type Instructor struct {
	ID           string `db:"id" json:"id"`
	DepartmentID string `db:"department_id" json:"department_id"`
	EmployeeNo   string `db:"employee_no" json:"employee_no"`
	FullName     string `db:"full_name" json:"full_name"`
	Email        string `db:"email" json:"email"`
}

// SectionStatus represents the offering state of a section.
type SectionStatus string

const (
	SectionStatusPlanned   SectionStatus = "PLANNED"
	SectionStatusOpen      SectionStatus = "OPEN"
	SectionStatusClosed    SectionStatus = "CLOSED"
	SectionStatusCancelled SectionStatus = "CANCELLED"
)

// CourseSection is a scheduled offering of a course in a term.
// (course, term, section_code) is unique.
type CourseSection struct {
	ID               string        `db:"id" json:"id"`
	CourseID         string        `db:"course_id" json:"course_id"`
	TermID           string        `db:"term_id" json:"term_id"`
	InstructorID     string        `db:"instructor_id" json:"instructor_id"`
	SectionCode      string        `db:"section_code" json:"section_code"`
	Capacity         int           `db:"capacity" json:"capacity"`
	WaitlistCapacity int           `db:"waitlist_capacity" json:"waitlist_capacity"`
	Status           SectionStatus `db:"status" json:"status"`
	GradesLocked     bool          `db:"grades_locked" json:"grades_locked"`
	Location         string        `db:"location" json:"location"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
}

// MeetingTime is one weekly meeting of a section. Start and end are
// minutes from midnight; start must be strictly before end.
type MeetingTime struct {
	ID        string `db:"id" json:"id"`
	SectionID string `db:"section_id" json:"section_id"`
	DayOfWeek int    `db:"day_of_week" json:"day_of_week"`
	StartMin  int    `db:"start_min" json:"start_min"`
	EndMin    int    `db:"end_min" json:"end_min"`
	Room      string `db:"room" json:"room"`
}

// Overlaps reports whether two meetings collide on the same weekday.
func (m MeetingTime) Overlaps(o MeetingTime) bool {
	return m.DayOfWeek == o.DayOfWeek && m.StartMin < o.EndMin && o.StartMin < m.EndMin
}

// CoursePrerequisite links a course to one prerequisite course.
// Rows with AllOf=true are conjunctive; rows with AllOf=false form a
// single alternative group of which one suffices.
type CoursePrerequisite struct {
	CourseID       string `db:"course_id" json:"course_id"`
	PrerequisiteID string `db:"prerequisite_id" json:"prerequisite_id"`
	MinGrade       string `db:"min_grade" json:"min_grade"`
	AllOf          bool   `db:"all_of" json:"all_of"`
	PrereqCode     string `db:"prereq_code" json:"prereq_code"`
}

// SectionDetail enriches CourseSection with course/term context and meetings.
type SectionDetail struct {
	CourseSection
	CourseCode string        `db:"course_code" json:"course_code"`
	CourseName string        `db:"course_name" json:"course_name"`
	Credits    float64       `db:"credits" json:"credits"`
	TermCode   string        `db:"term_code" json:"term_code"`
	Meetings   []MeetingTime `json:"meetings,omitempty"`
}

// SectionFilter provides filters for listing sections.
type SectionFilter struct {
	CourseID     string
	TermID       string
	InstructorID string
	Status       SectionStatus
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
