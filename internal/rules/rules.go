// Package rules holds the pure decision functions of the course lifecycle:
// given a snapshot of a course or intake log and the current time, which
// transition (if any) is due. No I/O happens here.
package rules

import (
	"time"

	"adherence/internal/models"
)

// Windows carries the tunable deadline parameters consumed by the rules.
type Windows struct {
	ReminderLead    time.Duration
	LateAfter       time.Duration
	MissedAfter     time.Duration
	ReviewSLA       time.Duration
	ReshootWindow   time.Duration
	AppealWindow    time.Duration
	StrikeThreshold int
}

// SubmissionPhase classifies where "now" falls relative to the scheduled
// intake moment for the expected day.
type SubmissionPhase string

const (
	PhaseEarly  SubmissionPhase = "early"  // before the window opens
	PhaseOpen   SubmissionPhase = "open"   // on time
	PhaseLate   SubmissionPhase = "late"   // after the window, before the hard cutoff
	PhaseClosed SubmissionPhase = "closed" // past the hard cutoff
)

// Route is the removal decision for a strike-threshold crossing.
type Route int

const (
	RouteNone Route = iota
	RouteAppeal
	RouteExpire
	RouteComplete
)

// DayDate is the calendar date of the given day number (day 1 = start date).
func DayDate(c models.Course, day int) time.Time {
	return c.StartDate.AddDate(0, 0, day-1)
}

// ScheduledAt is the intake moment for the given day number.
func ScheduledAt(c models.Course, day int) time.Time {
	d := DayDate(c, day)
	return time.Date(d.Year(), d.Month(), d.Day(), *c.IntakeMinute/60, *c.IntakeMinute%60, 0, 0, time.UTC)
}

// DayKey formats a date for strike records and sent markers.
func DayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Classify locates now relative to the expected day's window. It also checks
// the previous day's window for intake times near midnight, where the hard
// cutoff spills into the next calendar day.
func Classify(c models.Course, now time.Time, w Windows) (day int, scheduled time.Time, phase SubmissionPhase) {
	if c.StartDate == nil || c.IntakeMinute == nil {
		return 0, time.Time{}, PhaseClosed
	}
	day = c.ExpectedDay()
	if day > c.TotalDays {
		return day, time.Time{}, PhaseClosed
	}
	scheduled = ScheduledAt(c, day)

	// Midnight spill: if this day's window has not opened yet but the
	// previous day's cutoff is still running, we are in that earlier window
	// and the earlier day number is the one being classified. Callers that
	// already hold a log for it will see the duplicate.
	if day > 1 && now.Before(scheduled.Add(-w.ReminderLead)) {
		prev := scheduled.AddDate(0, 0, -1)
		if !now.After(prev.Add(w.MissedAfter)) && !now.Before(prev.Add(-w.ReminderLead)) {
			day--
			scheduled = prev
		}
	}

	switch {
	case now.Before(scheduled.Add(-w.ReminderLead)):
		phase = PhaseEarly
	case now.Before(scheduled.Add(w.LateAfter)):
		phase = PhaseOpen
	case now.Before(scheduled.Add(w.MissedAfter)):
		phase = PhaseLate
	default:
		phase = PhaseClosed
	}
	return day, scheduled, phase
}

// DelayMinutes is the positive submission delay past the scheduled moment.
func DelayMinutes(scheduled, takenAt time.Time) *int {
	d := takenAt.Sub(scheduled)
	if d <= 0 {
		return nil
	}
	m := int(d.Minutes())
	return &m
}

// ReminderDue reports whether the pre-intake reminder window is open for the
// expected day. The caller verifies log absence.
func ReminderDue(c models.Course, now time.Time, w Windows) (int, time.Time, bool) {
	day, scheduled, phase := Classify(c, now, w)
	return day, scheduled, phase == PhaseOpen && now.Before(scheduled)
}

// LateStrikeDue reports whether the strike grace period has elapsed with no
// submission for the expected day. The caller verifies log absence.
func LateStrikeDue(c models.Course, now time.Time, w Windows) (int, time.Time, bool) {
	day, scheduled, phase := Classify(c, now, w)
	return day, scheduled, phase == PhaseLate
}

// MissedCutoffDue reports whether the expected day's hard cutoff has elapsed.
func MissedCutoffDue(c models.Course, now time.Time, w Windows) (int, time.Time, bool) {
	if c.StartDate == nil || c.IntakeMinute == nil {
		return 0, time.Time{}, false
	}
	day := c.ExpectedDay()
	if day > c.TotalDays {
		return day, time.Time{}, false
	}
	scheduled := ScheduledAt(c, day)
	return day, scheduled, !now.Before(scheduled.Add(w.MissedAfter))
}

// EvaluateRemoval applies the strike threshold and the appeal budget. The
// completion tie-break lives here: a course that already earned its final day
// is completed, never penalized, in the same pass.
func EvaluateRemoval(c models.Course, finalDayDone bool, w Windows) Route {
	if finalDayDone && c.CurrentDay >= c.TotalDays {
		return RouteComplete
	}
	if c.LateCount < w.StrikeThreshold {
		return RouteNone
	}
	if c.AppealCount < models.MaxAppeals {
		return RouteAppeal
	}
	return RouteExpire
}

// ReviewOverdue reports whether a pending review has exceeded its SLA.
func ReviewOverdue(l models.IntakeLog, now time.Time, w Windows) bool {
	if l.Status != models.IntakePendingReview || l.ReviewStartedAt == nil {
		return false
	}
	return now.After(l.ReviewStartedAt.Add(w.ReviewSLA))
}

// ReshootExpired reports whether a granted reshoot window has closed unused.
func ReshootExpired(l models.IntakeLog, now time.Time) bool {
	if l.Status != models.IntakeReshoot || l.ReshootDeadline == nil {
		return false
	}
	return now.After(*l.ReshootDeadline)
}

// AppealExpired reports whether the appeal window closed without a decision.
// An appeal with media attached is left for the reviewer; only silent
// deadlines auto-expire.
func AppealExpired(c models.Course, now time.Time) bool {
	if c.Status != models.CourseAppeal || c.AppealDeadline == nil {
		return false
	}
	if c.AppealMedia != nil {
		return false
	}
	return now.After(*c.AppealDeadline)
}

// CompletionDue reports whether the course has earned completion: final day
// reached and its log in a terminal success state.
func CompletionDue(c models.Course, finalLog models.IntakeLog) bool {
	if c.Status != models.CourseActive || c.CurrentDay < c.TotalDays {
		return false
	}
	return finalLog.Day == c.TotalDays && finalLog.Status.Success()
}

func ReshootDeadline(now time.Time, w Windows) time.Time { return now.Add(w.ReshootWindow) }

func AppealDeadline(now time.Time, w Windows) time.Time { return now.Add(w.AppealWindow) }
