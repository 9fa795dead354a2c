package rules

import (
	"testing"
	"time"

	"adherence/internal/models"
)

func testWindows() Windows {
	return Windows{
		ReminderLead:    10 * time.Minute,
		LateAfter:       30 * time.Minute,
		MissedAfter:     2 * time.Hour,
		ReviewSLA:       22 * time.Hour,
		ReshootWindow:   22 * time.Hour,
		AppealWindow:    24 * time.Hour,
		StrikeThreshold: 3,
	}
}

func courseAt(intakeMinute int, currentDay int) models.Course {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return models.Course{
		Status:       models.CourseActive,
		TotalDays:    21,
		IntakeMinute: &intakeMinute,
		StartDate:    &start,
		CurrentDay:   currentDay,
	}
}

func TestScheduledAtHourAndMinute(t *testing.T) {
	c := courseAt(9*60+45, 0)
	got := ScheduledAt(c, 1)
	want := time.Date(2026, 3, 1, 9, 45, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("scheduled = %v, want %v", got, want)
	}
	if got := ScheduledAt(c, 3); got.Day() != 3 || got.Hour() != 9 || got.Minute() != 45 {
		t.Fatalf("day 3 scheduled = %v, want March 3 09:45", got)
	}
}

func TestClassifyPhases(t *testing.T) {
	w := testWindows()
	c := courseAt(9*60, 0) // day 1 due at 09:00
	sched := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
		want SubmissionPhase
	}{
		{"hour before", sched.Add(-time.Hour), PhaseEarly},
		{"just before lead", sched.Add(-11 * time.Minute), PhaseEarly},
		{"lead boundary", sched.Add(-10 * time.Minute), PhaseOpen},
		{"on the minute", sched, PhaseOpen},
		{"inside grace", sched.Add(29 * time.Minute), PhaseOpen},
		{"grace boundary", sched.Add(30 * time.Minute), PhaseLate},
		{"an hour late", sched.Add(time.Hour), PhaseLate},
		{"cutoff boundary", sched.Add(2 * time.Hour), PhaseClosed},
		{"next morning", sched.Add(20 * time.Hour), PhaseClosed},
	}
	for _, tc := range cases {
		day, got, phase := Classify(c, tc.now, w)
		if day != 1 {
			t.Errorf("%s: day = %d, want 1", tc.name, day)
		}
		if phase != tc.want {
			t.Errorf("%s: phase = %s, want %s", tc.name, phase, tc.want)
		}
		if phase != PhaseClosed && !got.Equal(sched) {
			t.Errorf("%s: scheduled = %v, want %v", tc.name, got, sched)
		}
	}
}

func TestClassifyMidnightSpill(t *testing.T) {
	// Intake at 23:30: day 1's cutoff runs until 01:30 on March 2. A
	// submission at 00:15 on March 2 is still day 1, forty-five minutes late.
	w := testWindows()
	c := courseAt(23*60+30, 0)
	now := time.Date(2026, 3, 2, 0, 15, 0, 0, time.UTC)
	day, scheduled, phase := Classify(c, now, w)
	if day != 1 {
		t.Fatalf("day = %d, want 1", day)
	}
	wantSched := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	if !scheduled.Equal(wantSched) {
		t.Fatalf("scheduled = %v, want %v", scheduled, wantSched)
	}
	if phase != PhaseLate {
		t.Fatalf("phase = %s, want %s", phase, PhaseLate)
	}
}

func TestClassifySpillKeepsPreviousDayNumber(t *testing.T) {
	// Day 1 was just logged; minutes later the course expects day 2, whose
	// window is almost a full day away. The still-open day 1 window must
	// classify as day 1, so the day 1 log blocks a second submission instead
	// of it landing as an instant day 2.
	w := testWindows()
	c := courseAt(9*60, 1)
	now := time.Date(2026, 3, 1, 9, 10, 0, 0, time.UTC)
	day, scheduled, phase := Classify(c, now, w)
	if day != 1 {
		t.Fatalf("day = %d, want 1", day)
	}
	if want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC); !scheduled.Equal(want) {
		t.Fatalf("scheduled = %v, want %v", scheduled, want)
	}
	if phase != PhaseOpen {
		t.Fatalf("phase = %s, want %s", phase, PhaseOpen)
	}

	// Same shape across midnight with a 23:30 intake time.
	late := courseAt(23*60+30, 1)
	day, _, phase = Classify(late, time.Date(2026, 3, 2, 0, 15, 0, 0, time.UTC), w)
	if day != 1 {
		t.Fatalf("midnight day = %d, want 1", day)
	}
	if phase != PhaseLate {
		t.Fatalf("midnight phase = %s, want %s", phase, PhaseLate)
	}
}

func TestClassifyFirstDayNeverSpills(t *testing.T) {
	w := testWindows()
	c := courseAt(9*60, 0)
	_, _, phase := Classify(c, time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC), w)
	if phase != PhaseEarly {
		t.Fatalf("phase = %s, want %s", phase, PhaseEarly)
	}
}

func TestClassifyUnactivatedIsClosed(t *testing.T) {
	w := testWindows()
	_, _, phase := Classify(models.Course{TotalDays: 21}, time.Now(), w)
	if phase != PhaseClosed {
		t.Fatalf("phase = %s, want %s", phase, PhaseClosed)
	}
}

func TestDelayMinutes(t *testing.T) {
	sched := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if got := DelayMinutes(sched, sched.Add(-time.Minute)); got != nil {
		t.Fatalf("early submission delay = %d, want nil", *got)
	}
	got := DelayMinutes(sched, sched.Add(45*time.Minute))
	if got == nil || *got != 45 {
		t.Fatalf("delay = %v, want 45", got)
	}
}

func TestEvaluateRemovalRoutes(t *testing.T) {
	w := testWindows()

	c := courseAt(9*60, 5)
	c.LateCount = 2
	if got := EvaluateRemoval(c, false, w); got != RouteNone {
		t.Fatalf("under threshold: route = %d, want none", got)
	}

	c.LateCount = 3
	if got := EvaluateRemoval(c, false, w); got != RouteAppeal {
		t.Fatalf("first removal: route = %d, want appeal", got)
	}

	c.AppealCount = models.MaxAppeals
	if got := EvaluateRemoval(c, false, w); got != RouteExpire {
		t.Fatalf("appeals spent: route = %d, want expire", got)
	}

	// Completion beats removal when the final day is already earned.
	done := courseAt(9*60, 21)
	done.LateCount = 3
	if got := EvaluateRemoval(done, true, w); got != RouteComplete {
		t.Fatalf("final day done: route = %d, want complete", got)
	}
}

func TestAppealExpired(t *testing.T) {
	deadline := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := courseAt(9*60, 5)
	c.Status = models.CourseAppeal
	c.AppealDeadline = &deadline

	if AppealExpired(c, deadline.Add(-time.Hour)) {
		t.Fatal("expired before deadline")
	}
	if !AppealExpired(c, deadline.Add(time.Hour)) {
		t.Fatal("not expired after deadline")
	}

	media := "https://cdn.example.com/appeal.mp4"
	c.AppealMedia = &media
	if AppealExpired(c, deadline.Add(time.Hour)) {
		t.Fatal("appeal with media must wait for a reviewer")
	}
}

func TestReshootExpired(t *testing.T) {
	deadline := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	l := models.IntakeLog{Status: models.IntakeReshoot, ReshootDeadline: &deadline}
	if ReshootExpired(l, deadline.Add(-time.Minute)) {
		t.Fatal("expired before deadline")
	}
	if !ReshootExpired(l, deadline.Add(time.Minute)) {
		t.Fatal("not expired after deadline")
	}
	l.Status = models.IntakePendingReview
	if ReshootExpired(l, deadline.Add(time.Hour)) {
		t.Fatal("non-reshoot log reported expired")
	}
}

func TestReviewOverdue(t *testing.T) {
	w := testWindows()
	started := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	l := models.IntakeLog{Status: models.IntakePendingReview, ReviewStartedAt: &started}
	if ReviewOverdue(l, started.Add(w.ReviewSLA-time.Minute), w) {
		t.Fatal("overdue inside SLA")
	}
	if !ReviewOverdue(l, started.Add(w.ReviewSLA+time.Minute), w) {
		t.Fatal("not overdue past SLA")
	}
}

func TestCompletionDue(t *testing.T) {
	c := courseAt(9*60, 21)
	final := models.IntakeLog{Day: 21, Status: models.IntakeTaken}
	if !CompletionDue(c, final) {
		t.Fatal("completed course not due")
	}
	late := models.IntakeLog{Day: 21, Status: models.IntakeLate}
	if !CompletionDue(c, late) {
		t.Fatal("late final day still completes the course")
	}
	missed := models.IntakeLog{Day: 21, Status: models.IntakeMissed}
	if CompletionDue(c, missed) {
		t.Fatal("missed final day must not complete")
	}
	c.CurrentDay = 20
	if CompletionDue(c, final) {
		t.Fatal("mid-course completion")
	}
}
