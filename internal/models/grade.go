package models

import "time"

// Grade is the single final grade of an enrollment.
type Grade struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	NumericScore float64   `db:"numeric_score" json:"numeric_score"`
	LetterGrade  string    `db:"letter_grade" json:"letter_grade"`
	GradePoints  float64   `db:"grade_points" json:"grade_points"`
	Final        bool      `db:"final" json:"final"`
	RecordedBy   string    `db:"recorded_by" json:"recorded_by"`
	RecordedAt   time.Time `db:"recorded_at" json:"recorded_at"`
}

// letterPoints is the 4.0-scale mapping used for prerequisite thresholds
// and GPA math.
var letterPoints = map[string]float64{
	"A":  4.0,
	"A-": 3.7,
	"B+": 3.3,
	"B":  3.0,
	"B-": 2.7,
	"C+": 2.3,
	"C":  2.0,
	"D":  1.0,
	"F":  0.0,
}

// PointsForLetter resolves a letter grade to grade points. Unknown
// letters map to 0.
func PointsForLetter(letter string) float64 {
	return letterPoints[letter]
}

// GradeBand maps a minimum numeric score to a letter and its points.
type GradeBand struct {
	Min    float64
	Letter string
	Points float64
}

// GradeScale converts numeric scores to letters and grade points.
// Bands must be ordered by descending Min.
type GradeScale struct {
	Bands []GradeBand
}

// Classify resolves a numeric score against the scale.
func (s GradeScale) Classify(score float64) (string, float64) {
	for _, b := range s.Bands {
		if score >= b.Min {
			return b.Letter, b.Points
		}
	}
	return "F", 0.0
}

// DefaultGradeScale returns the plain five-letter scale.
func DefaultGradeScale() GradeScale {
	return GradeScale{Bands: []GradeBand{
		{Min: 90, Letter: "A", Points: 4.0},
		{Min: 80, Letter: "B", Points: 3.0},
		{Min: 70, Letter: "C", Points: 2.0},
		{Min: 60, Letter: "D", Points: 1.0},
	}}
}

// PlusMinusGradeScale returns the scale with +/- bands enabled.
func PlusMinusGradeScale() GradeScale {
	return GradeScale{Bands: []GradeBand{
		{Min: 93, Letter: "A", Points: 4.0},
		{Min: 90, Letter: "A-", Points: 3.7},
		{Min: 87, Letter: "B+", Points: 3.3},
		{Min: 83, Letter: "B", Points: 3.0},
		{Min: 80, Letter: "B-", Points: 2.7},
		{Min: 77, Letter: "C+", Points: 2.3},
		{Min: 70, Letter: "C", Points: 2.0},
		{Min: 60, Letter: "D", Points: 1.0},
	}}
}

// GPARow is one graded completed enrollment feeding GPA computation.
type GPARow struct {
	Credits     float64 `db:"credits"`
	GradePoints float64 `db:"grade_points"`
}

// GPASummary is the result of a GPA computation. GPA is nil when the
// student has no graded credits.
type GPASummary struct {
	StudentID      string   `json:"student_id"`
	GPA            *float64 `json:"gpa,omitempty"`
	GradedCredits  float64  `json:"graded_credits"`
	QualityPoints  float64  `json:"quality_points"`
	CoursesCounted int      `json:"courses_counted"`
}

// SectionPassRate summarises grading outcomes for a section. Rate is
// nil when nothing has been graded yet.
type SectionPassRate struct {
	SectionID string   `json:"section_id"`
	Passed    int      `db:"passed" json:"passed"`
	Graded    int      `db:"graded" json:"graded"`
	Rate      *float64 `json:"rate,omitempty"`
}

// GradeBucket is one half-point bucket of a term's grade distribution.
type GradeBucket struct {
	BucketFloor float64 `db:"bucket_floor" json:"bucket_floor"`
	Count       int     `db:"count" json:"count"`
}

// TranscriptRow is one line of a student transcript.
type TranscriptRow struct {
	TermCode    string           `db:"term_code" json:"term_code"`
	CourseCode  string           `db:"course_code" json:"course_code"`
	CourseName  string           `db:"course_name" json:"course_name"`
	Credits     float64          `db:"credits" json:"credits"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	LetterGrade *string          `db:"letter_grade" json:"letter_grade,omitempty"`
	GradePoints *float64         `db:"grade_points" json:"grade_points,omitempty"`
}

// Transcript is the full transcript of a student with cumulative GPA.
type Transcript struct {
	StudentID string          `json:"student_id"`
	Rows      []TranscriptRow `json:"rows"`
	GPA       *float64        `json:"gpa,omitempty"`
}
