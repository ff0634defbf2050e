package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/registrar-api/internal/models"
)

// RuleResult is one validator's verdict on an enrollment request.
type RuleResult struct {
	Rule      models.Rule `json:"rule"`
	Satisfied bool        `json:"satisfied"`
	Reason    string      `json:"reason,omitempty"`
}

func pass(rule models.Rule) RuleResult {
	return RuleResult{Rule: rule, Satisfied: true}
}

func fail(rule models.Rule, reason string) RuleResult {
	return RuleResult{Rule: rule, Satisfied: false, Reason: reason}
}

// RuleConfig carries the tunable bounds the validators apply.
type RuleConfig struct {
	MinCredits float64
	MaxCredits float64
}

// CheckPrerequisites verifies the student's course history against the
// section's prerequisite rows. Rows marked all_of are conjunctive;
// the remaining rows form one alternative group of which a single
// satisfied member suffices. A prerequisite override waives the whole
// check.
func CheckPrerequisites(snap *models.EnrollmentSnapshot) RuleResult {
	if len(snap.Prereqs) == 0 {
		return pass(models.RulePrerequisite)
	}
	if snap.OverrideFor(models.OverrideTypePrerequisite) != nil {
		return pass(models.RulePrerequisite)
	}

	bestPoints := make(map[string]*float64)
	for _, rec := range snap.History {
		if rec.Status != models.EnrollmentStatusCompletedPassed || rec.GradePoints == nil {
			continue
		}
		if best, ok := bestPoints[rec.CourseID]; !ok || *rec.GradePoints > *best {
			p := *rec.GradePoints
			bestPoints[rec.CourseID] = &p
		}
	}

	satisfied := func(p models.CoursePrerequisite) bool {
		points, ok := bestPoints[p.PrerequisiteID]
		if !ok {
			return false
		}
		return *points >= models.PointsForLetter(p.MinGrade)
	}

	var missing []string
	anyGroup := false
	anyGroupMet := false
	for _, p := range snap.Prereqs {
		if p.AllOf {
			if !satisfied(p) {
				missing = append(missing, fmt.Sprintf("%s (min %s)", p.PrereqCode, p.MinGrade))
			}
			continue
		}
		anyGroup = true
		if satisfied(p) {
			anyGroupMet = true
		}
	}
	if anyGroup && !anyGroupMet {
		var codes []string
		for _, p := range snap.Prereqs {
			if !p.AllOf {
				codes = append(codes, p.PrereqCode)
			}
		}
		missing = append(missing, "one of "+strings.Join(codes, ", "))
	}

	if len(missing) > 0 {
		return fail(models.RulePrerequisite, "missing prerequisites: "+strings.Join(missing, "; "))
	}
	return pass(models.RulePrerequisite)
}

// CheckTimeConflict compares the candidate section's meetings against
// every section the student already holds in the term. Two meetings
// conflict when they share a weekday and their intervals overlap; a
// shared boundary minute is not a conflict. A time_conflict override
// waives the check.
func CheckTimeConflict(snap *models.EnrollmentSnapshot) RuleResult {
	if snap.OverrideFor(models.OverrideTypeTimeConflict) != nil {
		return pass(models.RuleTimeConflict)
	}
	for _, planned := range snap.Planned {
		if !planned.Status.Live() && !planned.Status.Completed() {
			continue
		}
		for _, pm := range planned.Meetings {
			for _, cm := range snap.Section.Meetings {
				if cm.Overlaps(pm) {
					return fail(models.RuleTimeConflict, fmt.Sprintf(
						"meeting overlaps section %s (day %d, %d-%d)",
						planned.SectionID, pm.DayOfWeek, pm.StartMin, pm.EndMin))
				}
			}
		}
	}
	return pass(models.RuleTimeConflict)
}

// CheckCreditLoad verifies the student's term credit total including the
// candidate course stays within the configured bounds. A credit_overload
// override lifts the ceiling only; the floor always applies.
func CheckCreditLoad(snap *models.EnrollmentSnapshot, cfg RuleConfig) RuleResult {
	total := snap.Section.Credits
	for _, planned := range snap.Planned {
		total += planned.Credits
	}
	if cfg.MaxCredits > 0 && total > cfg.MaxCredits {
		if snap.OverrideFor(models.OverrideTypeCreditOverload) != nil {
			return pass(models.RuleCreditLoad)
		}
		return fail(models.RuleCreditLoad, fmt.Sprintf(
			"term load %.1f credits exceeds maximum %.1f", total, cfg.MaxCredits))
	}
	if cfg.MinCredits > 0 && total < cfg.MinCredits {
		return fail(models.RuleCreditLoad, fmt.Sprintf(
			"term load %.1f credits is below minimum %.1f", total, cfg.MinCredits))
	}
	return pass(models.RuleCreditLoad)
}

// CheckSectionState verifies the section accepts enrollment requests.
func CheckSectionState(snap *models.EnrollmentSnapshot) RuleResult {
	if snap.Section.Status != models.SectionStatusOpen {
		return fail(models.RuleSectionState, fmt.Sprintf("section is %s", snap.Section.Status))
	}
	return pass(models.RuleSectionState)
}

// DecideCapacity resolves the capacity rule into the final enrollment
// decision. Validators run first; capacity is always decided last so a
// rejection names the earliest blocking rule, never a seat shortage the
// student could not act on.
func DecideCapacity(snap *models.EnrollmentSnapshot, load *models.SectionLoad) models.EnrollmentOutcome {
	if load.SeatsLeft() > 0 {
		return models.EnrollmentOutcome{Decision: models.DecisionEnrolled}
	}
	if snap.OverrideFor(models.OverrideTypeCapacity) != nil {
		return models.EnrollmentOutcome{Decision: models.DecisionEnrolled}
	}
	if load.WaitlistLeft() > 0 {
		return models.EnrollmentOutcome{Decision: models.DecisionWaitlisted}
	}
	return models.EnrollmentOutcome{
		Decision: models.DecisionRejected,
		Rule:     models.RuleCapacity,
		Reason:   fmt.Sprintf("section full (%d seats, %d waitlist slots)", load.Capacity, load.WaitlistCapacity),
	}
}
