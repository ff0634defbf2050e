package models

import "time"

// Student represents an admitted student. Students are deactivated,
// never deleted.
type Student struct {
	ID           string    `db:"id" json:"id"`
	StudentNo    string    `db:"student_no" json:"student_no"`
	FullName     string    `db:"full_name" json:"full_name"`
	Email        string    `db:"email" json:"email"`
	CollegeID    string    `db:"college_id" json:"college_id"`
	MajorID      string    `db:"major_id" json:"major_id"`
	EnrolledYear int       `db:"enrolled_year" json:"enrolled_year"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
