package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
)

func points(v float64) *float64 { return &v }

func snapshotWithPrereq(minGrade string, history []models.CourseRecord) *models.EnrollmentSnapshot {
	return &models.EnrollmentSnapshot{
		Section: models.SectionDetail{
			CourseSection: models.CourseSection{ID: "sec-1", CourseID: "course-2", Status: models.SectionStatusOpen},
			Credits:       3,
		},
		Prereqs: []models.CoursePrerequisite{
			{CourseID: "course-2", PrerequisiteID: "course-1", PrereqCode: "CS101", MinGrade: minGrade, AllOf: true},
		},
		History: history,
	}
}

func TestCheckPrerequisitesPassedWithHigherGrade(t *testing.T) {
	snap := snapshotWithPrereq("C", []models.CourseRecord{
		{CourseID: "course-1", CourseCode: "CS101", Status: models.EnrollmentStatusCompletedPassed, GradePoints: points(3.0)},
	})

	result := CheckPrerequisites(snap)
	assert.True(t, result.Satisfied)
}

func TestCheckPrerequisitesFailedCompletionRejected(t *testing.T) {
	snap := snapshotWithPrereq("C", []models.CourseRecord{
		{CourseID: "course-1", CourseCode: "CS101", Status: models.EnrollmentStatusCompletedFailed, GradePoints: points(0.0)},
	})

	result := CheckPrerequisites(snap)
	require.False(t, result.Satisfied)
	assert.Equal(t, models.RulePrerequisite, result.Rule)
	assert.Contains(t, result.Reason, "CS101")
}

func TestCheckPrerequisitesBelowMinGradeRejected(t *testing.T) {
	snap := snapshotWithPrereq("B", []models.CourseRecord{
		{CourseID: "course-1", CourseCode: "CS101", Status: models.EnrollmentStatusCompletedPassed, GradePoints: points(2.0)},
	})

	result := CheckPrerequisites(snap)
	assert.False(t, result.Satisfied)
}

func TestCheckPrerequisitesOverrideWaives(t *testing.T) {
	snap := snapshotWithPrereq("C", nil)
	snap.Overrides = []models.Override{{Type: models.OverrideTypePrerequisite, StudentID: "stu-1"}}

	result := CheckPrerequisites(snap)
	assert.True(t, result.Satisfied)
}

func TestCheckPrerequisitesAlternativeGroup(t *testing.T) {
	snap := &models.EnrollmentSnapshot{
		Section: models.SectionDetail{CourseSection: models.CourseSection{CourseID: "course-3"}},
		Prereqs: []models.CoursePrerequisite{
			{PrerequisiteID: "course-1", PrereqCode: "MATH101", MinGrade: "D", AllOf: false},
			{PrerequisiteID: "course-2", PrereqCode: "MATH102", MinGrade: "D", AllOf: false},
		},
		History: []models.CourseRecord{
			{CourseID: "course-2", CourseCode: "MATH102", Status: models.EnrollmentStatusCompletedPassed, GradePoints: points(1.0)},
		},
	}

	result := CheckPrerequisites(snap)
	assert.True(t, result.Satisfied, "one satisfied alternative should suffice")

	snap.History = nil
	result = CheckPrerequisites(snap)
	require.False(t, result.Satisfied)
	assert.Contains(t, result.Reason, "one of")
}

func meetingSnapshot(candidate, held models.MeetingTime) *models.EnrollmentSnapshot {
	return &models.EnrollmentSnapshot{
		Section: models.SectionDetail{
			CourseSection: models.CourseSection{ID: "sec-new", Status: models.SectionStatusOpen},
			Meetings:      []models.MeetingTime{candidate},
		},
		Planned: []models.PlannedSection{
			{
				SectionID: "sec-held",
				Status:    models.EnrollmentStatusEnrolled,
				Meetings:  []models.MeetingTime{held},
			},
		},
	}
}

func TestCheckTimeConflictOverlappingMeetings(t *testing.T) {
	// Monday 09:30-11:00 against a held Monday 09:00-10:30.
	snap := meetingSnapshot(
		models.MeetingTime{DayOfWeek: 1, StartMin: 570, EndMin: 660},
		models.MeetingTime{DayOfWeek: 1, StartMin: 540, EndMin: 630},
	)

	result := CheckTimeConflict(snap)
	require.False(t, result.Satisfied)
	assert.Equal(t, models.RuleTimeConflict, result.Rule)
}

func TestCheckTimeConflictBackToBackMeetings(t *testing.T) {
	// Monday 10:30-12:00 against a held Monday 09:00-10:30 shares only a boundary.
	snap := meetingSnapshot(
		models.MeetingTime{DayOfWeek: 1, StartMin: 630, EndMin: 720},
		models.MeetingTime{DayOfWeek: 1, StartMin: 540, EndMin: 630},
	)

	result := CheckTimeConflict(snap)
	assert.True(t, result.Satisfied)
}

func TestCheckTimeConflictDifferentDays(t *testing.T) {
	snap := meetingSnapshot(
		models.MeetingTime{DayOfWeek: 2, StartMin: 540, EndMin: 630},
		models.MeetingTime{DayOfWeek: 1, StartMin: 540, EndMin: 630},
	)

	result := CheckTimeConflict(snap)
	assert.True(t, result.Satisfied)
}

func TestCheckTimeConflictOverrideWaives(t *testing.T) {
	snap := meetingSnapshot(
		models.MeetingTime{DayOfWeek: 1, StartMin: 570, EndMin: 660},
		models.MeetingTime{DayOfWeek: 1, StartMin: 540, EndMin: 630},
	)
	snap.Overrides = []models.Override{{Type: models.OverrideTypeTimeConflict}}

	result := CheckTimeConflict(snap)
	assert.True(t, result.Satisfied)
}

func creditSnapshot(planned, candidate float64) *models.EnrollmentSnapshot {
	return &models.EnrollmentSnapshot{
		Section: models.SectionDetail{
			CourseSection: models.CourseSection{ID: "sec-1", Status: models.SectionStatusOpen},
			Credits:       candidate,
		},
		Planned: []models.PlannedSection{
			{SectionID: "sec-other", Credits: planned, Status: models.EnrollmentStatusEnrolled},
		},
	}
}

func TestCheckCreditLoadOverCeilingRejected(t *testing.T) {
	snap := creditSnapshot(38, 3)

	result := CheckCreditLoad(snap, RuleConfig{MinCredits: 10, MaxCredits: 40})
	require.False(t, result.Satisfied)
	assert.Equal(t, models.RuleCreditLoad, result.Rule)
}

func TestCheckCreditLoadOverloadOverrideLiftsCeiling(t *testing.T) {
	snap := creditSnapshot(38, 3)
	snap.Overrides = []models.Override{{Type: models.OverrideTypeCreditOverload}}

	result := CheckCreditLoad(snap, RuleConfig{MinCredits: 10, MaxCredits: 40})
	assert.True(t, result.Satisfied)
}

func TestCheckCreditLoadBelowFloorRejected(t *testing.T) {
	snap := creditSnapshot(2, 3)

	result := CheckCreditLoad(snap, RuleConfig{MinCredits: 10, MaxCredits: 40})
	assert.False(t, result.Satisfied)

	// The overload override does not waive the floor.
	snap.Overrides = []models.Override{{Type: models.OverrideTypeCreditOverload}}
	result = CheckCreditLoad(snap, RuleConfig{MinCredits: 10, MaxCredits: 40})
	assert.False(t, result.Satisfied)
}

func TestCheckCreditLoadWithinBounds(t *testing.T) {
	snap := creditSnapshot(12, 3)

	result := CheckCreditLoad(snap, RuleConfig{MinCredits: 10, MaxCredits: 40})
	assert.True(t, result.Satisfied)
}

func TestCheckSectionState(t *testing.T) {
	snap := &models.EnrollmentSnapshot{
		Section: models.SectionDetail{CourseSection: models.CourseSection{Status: models.SectionStatusClosed}},
	}
	result := CheckSectionState(snap)
	require.False(t, result.Satisfied)
	assert.Equal(t, models.RuleSectionState, result.Rule)

	snap.Section.Status = models.SectionStatusOpen
	assert.True(t, CheckSectionState(snap).Satisfied)
}

func TestDecideCapacity(t *testing.T) {
	snap := &models.EnrollmentSnapshot{}
	load := &models.SectionLoad{Capacity: 2, WaitlistCapacity: 1, Enrolled: 1}
	assert.Equal(t, models.DecisionEnrolled, DecideCapacity(snap, load).Decision)

	load.Enrolled = 2
	assert.Equal(t, models.DecisionWaitlisted, DecideCapacity(snap, load).Decision)

	load.Waitlisted = 1
	outcome := DecideCapacity(snap, load)
	require.Equal(t, models.DecisionRejected, outcome.Decision)
	assert.Equal(t, models.RuleCapacity, outcome.Rule)
}

func TestDecideCapacityOverrideAdmitsPastCapacity(t *testing.T) {
	snap := &models.EnrollmentSnapshot{
		Overrides: []models.Override{{Type: models.OverrideTypeCapacity}},
	}
	load := &models.SectionLoad{Capacity: 2, WaitlistCapacity: 1, Enrolled: 2, Waitlisted: 1}

	outcome := DecideCapacity(snap, load)
	assert.Equal(t, models.DecisionEnrolled, outcome.Decision)
}
