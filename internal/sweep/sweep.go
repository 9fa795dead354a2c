package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"adherence/internal/archive"
	"adherence/internal/config"
	"adherence/internal/models"
	"adherence/internal/notify"
	"adherence/internal/rules"
	"adherence/internal/store"
)

// Sweeper implements the periodic tasks over the store. All time math is
// driven by an injectable clock so tests can walk the calendar.
type Sweeper struct {
	cfg      config.Config
	st       *store.Store
	notifier notify.Notifier
	sink     archive.Sink
	now      func() time.Time
}

func New(cfg config.Config, st *store.Store, n notify.Notifier, sink archive.Sink) *Sweeper {
	if n == nil {
		n = notify.LogNotifier{}
	}
	if sink == nil {
		sink = archive.NoopSink{}
	}
	return &Sweeper{cfg: cfg, st: st, notifier: n, sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Tasks returns the full task set in a fixed order. The scheduler runs them
// independently.
func (s *Sweeper) Tasks() []Task {
	return []Task{
		{Name: "reminders", Run: s.Reminders},
		{Name: "late_strikes", Run: s.LateStrikes},
		{Name: "missed_cutoffs", Run: s.MissedCutoffs},
		{Name: "review_escalation", Run: s.ReviewEscalation},
		{Name: "reshoot_expiry", Run: s.ReshootExpiry},
		{Name: "removal_eval", Run: s.RemovalEval},
		{Name: "appeal_expiry", Run: s.AppealExpiry},
		{Name: "completion", Run: s.Completion},
		{Name: "archival", Run: s.Archival},
	}
}

func (s *Sweeper) windows() rules.Windows {
	return rules.Windows{
		ReminderLead:    s.cfg.ReminderLead,
		LateAfter:       s.cfg.LateAfter,
		MissedAfter:     s.cfg.MissedAfter,
		ReviewSLA:       s.cfg.ReviewSLA,
		ReshootWindow:   s.cfg.ReshootWindow,
		AppealWindow:    s.cfg.AppealWindow,
		StrikeThreshold: s.cfg.StrikeThreshold,
	}
}

// Reminders notifies participants whose intake window is open but who have
// not submitted yet. One reminder per course per day.
func (s *Sweeper) Reminders(ctx context.Context) error {
	courses, err := s.st.ListActiveStarted(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	w := s.windows()
	var errs []error
	for _, c := range courses {
		day, scheduled, due := rules.ReminderDue(c, now, w)
		if !due {
			continue
		}
		if has, err := s.st.HasIntakeLog(ctx, c.ID, day); err != nil || has {
			errs = appendErr(errs, err)
			continue
		}
		s.sendOnce(ctx, c, "reminder", rules.DayKey(scheduled), notify.EventIntakeReminder, day, nil)
	}
	return errors.Join(errs...)
}

// LateStrikes records a strike as soon as the grace period elapses without a
// submission. The date guard in the store makes the strike per-day
// idempotent: a later late submission for the same day cannot double it.
func (s *Sweeper) LateStrikes(ctx context.Context) error {
	courses, err := s.st.ListActiveStarted(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	w := s.windows()
	var errs []error
	for _, c := range courses {
		day, scheduled, due := rules.LateStrikeDue(c, now, w)
		if !due {
			continue
		}
		if has, err := s.st.HasIntakeLog(ctx, c.ID, day); err != nil || has {
			errs = appendErr(errs, err)
			continue
		}
		date := rules.DayKey(scheduled)
		if containsDate(c.LateDates, date) {
			continue
		}
		if err := s.st.AppendLateDate(ctx, c, date); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				errs = append(errs, err)
			}
			continue
		}
		s.sendOnce(ctx, c, "late_strike", date, notify.EventLateStrike, day, nil)
	}
	return errors.Join(errs...)
}

// MissedCutoffs closes out days whose hard cutoff passed with no submission
// at all: the day's log is created in missed state and the course advances.
// The strike was usually already taken by LateStrikes for the same date.
func (s *Sweeper) MissedCutoffs(ctx context.Context) error {
	courses, err := s.st.ListActiveStarted(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	w := s.windows()
	var errs []error
	for _, c := range courses {
		day, scheduled, due := rules.MissedCutoffDue(c, now, w)
		if !due {
			continue
		}
		if has, err := s.st.HasIntakeLog(ctx, c.ID, day); err != nil || has {
			errs = appendErr(errs, err)
			continue
		}
		date := rules.DayKey(scheduled)
		if containsDate(c.LateDates, date) {
			_, err = s.st.InsertIntakeLog(ctx, store.NewIntakeLog{
				CourseID: c.ID, Day: day, Status: models.IntakeMissed, ScheduledAt: scheduled,
			})
		} else {
			_, err = s.st.InsertMissedLogWithStrike(ctx, c, day, scheduled, date)
		}
		if err != nil {
			if !errors.Is(err, store.ErrConflict) {
				errs = append(errs, err)
			}
			continue
		}
		if err := s.st.AdvanceDay(ctx, c.ID, day); err != nil && !errors.Is(err, store.ErrConflict) {
			errs = append(errs, err)
			continue
		}
		s.sendOnce(ctx, c, "missed", date, notify.EventMissedDay, day, nil)
	}
	return errors.Join(errs...)
}

// ReviewEscalation pings the responsible manager when a pending review has
// been waiting past the service window. The log's status is left alone; only
// a human decision settles a review.
func (s *Sweeper) ReviewEscalation(ctx context.Context) error {
	logs, err := s.st.ListPendingReviewsStartedBefore(ctx, s.now().Add(-s.cfg.ReviewSLA))
	if err != nil {
		return err
	}
	var errs []error
	for _, l := range logs {
		c, err := s.st.GetCourseByID(ctx, l.CourseID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		first, err := s.st.MarkSent(ctx, c.ID, "review_sla", fmt.Sprintf("day-%d", l.Day))
		if err != nil || !first {
			errs = appendErr(errs, err)
			continue
		}
		to := s.managerContact(ctx, c)
		if to == "" {
			continue
		}
		_ = s.notifier.Send(ctx, notify.Message{
			Event:    notify.EventReviewEscalated,
			To:       to,
			CourseID: c.ID,
			UserID:   c.UserID,
			Day:      l.Day,
		})
	}
	return errors.Join(errs...)
}

// ReshootExpiry finalizes rejected submissions whose reshoot window closed
// unused: the day becomes missed with a strike and the course advances.
func (s *Sweeper) ReshootExpiry(ctx context.Context) error {
	logs, err := s.st.ListExpiredReshoots(ctx, s.now())
	if err != nil {
		return err
	}
	var errs []error
	for _, l := range logs {
		if !rules.ReshootExpired(l, s.now()) {
			continue
		}
		c, err := s.st.GetCourseByID(ctx, l.CourseID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		date := rules.DayKey(s.now())
		if l.ScheduledAt != nil {
			date = rules.DayKey(*l.ScheduledAt)
		}
		if containsDate(c.LateDates, date) {
			err = s.st.UpdateIntakeStatusIf(ctx, l.ID, models.IntakeMissed, models.IntakeReshoot, nil)
		} else {
			err = s.st.FinalizeMissedWithStrike(ctx, l, c, date)
		}
		if err != nil {
			if !errors.Is(err, store.ErrConflict) {
				errs = append(errs, err)
			}
			continue
		}
		if err := s.st.AdvanceDay(ctx, c.ID, l.Day); err != nil && !errors.Is(err, store.ErrConflict) {
			errs = append(errs, err)
			continue
		}
		s.sendOnce(ctx, c, "reshoot_expired", date, notify.EventReshootExpired, l.Day, nil)
	}
	return errors.Join(errs...)
}

// RemovalEval routes courses at the strike threshold. Completion wins the
// tie: a course that already earned its final day is completed even when its
// strikes cross the threshold in the same pass. Otherwise the course enters
// its appeal window while an appeal is still in budget, or expires for good.
func (s *Sweeper) RemovalEval(ctx context.Context) error {
	courses, err := s.st.ListActiveAtStrikeThreshold(ctx, s.cfg.StrikeThreshold)
	if err != nil {
		return err
	}
	now := s.now()
	w := s.windows()
	var errs []error
	for _, c := range courses {
		finalDone := false
		if c.CurrentDay >= c.TotalDays {
			final, err := s.st.GetIntakeLog(ctx, c.ID, c.TotalDays)
			finalDone = err == nil && rules.CompletionDue(c, final)
		}
		var routeErr error
		switch rules.EvaluateRemoval(c, finalDone, w) {
		case rules.RouteComplete:
			if err := s.st.CompleteIfActive(ctx, c.ID); err != nil && !errors.Is(err, store.ErrConflict) {
				errs = append(errs, err)
				continue
			}
			s.sendOnce(ctx, c, "completed", "-", notify.EventCompleted, 0, nil)
			continue
		case rules.RouteAppeal:
			reason := s.removalReason(ctx, c)
			routeErr = s.st.AppealIfActive(ctx, c.ID, reason, rules.AppealDeadline(now, w))
			if routeErr == nil {
				s.sendOnce(ctx, c, "removed", "-", notify.EventRemoved, 0, map[string]string{"reason": string(reason)})
				s.sendOnce(ctx, c, "appeal_opened", fmt.Sprintf("n-%d", c.AppealCount), notify.EventAppealOpened, 0, nil)
			}
		case rules.RouteExpire:
			reason := s.removalReason(ctx, c)
			routeErr = s.st.ExpireIfActive(ctx, c.ID, reason)
			if routeErr == nil {
				s.sendOnce(ctx, c, "removed", "-", notify.EventRemoved, 0, map[string]string{"reason": string(reason)})
			}
		}
		if routeErr != nil && !errors.Is(routeErr, store.ErrConflict) {
			errs = append(errs, routeErr)
		}
	}
	return errors.Join(errs...)
}

// AppealExpiry closes appeal windows that lapsed in silence. Appeals with
// material attached are left for a manager to decide, deadline or not.
func (s *Sweeper) AppealExpiry(ctx context.Context) error {
	courses, err := s.st.ListAppealPastDeadline(ctx, s.now())
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range courses {
		if !rules.AppealExpired(c, s.now()) {
			continue
		}
		if err := s.st.ExpireIfAppeal(ctx, c.ID, models.RemovalAppealExpired); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				errs = append(errs, err)
			}
			continue
		}
		s.sendOnce(ctx, c, "appeal_expired", fmt.Sprintf("n-%d", c.AppealCount), notify.EventAppealExpired, 0, nil)
	}
	return errors.Join(errs...)
}

// Completion finishes courses whose final day reached a terminal success
// state through the service path without an immediate completion write.
func (s *Sweeper) Completion(ctx context.Context) error {
	courses, err := s.st.ListActiveAtFinalDay(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range courses {
		if err := s.st.CompleteIfActive(ctx, c.ID); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				errs = append(errs, err)
			}
			continue
		}
		s.sendOnce(ctx, c, "completed", "-", notify.EventCompleted, 0, nil)
	}
	return errors.Join(errs...)
}

// Archival copies long-settled terminal courses into the warehouse sink and
// trims old sent markers. A course is archived once; retries after a partial
// failure are safe because the sink upserts.
func (s *Sweeper) Archival(ctx context.Context) error {
	if s.cfg.ArchiveAfter <= 0 {
		return nil
	}
	now := s.now()
	courses, err := s.st.ListTerminalEndedBefore(ctx, now.Add(-s.cfg.ArchiveAfter))
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range courses {
		done, err := s.st.WasSent(ctx, c.ID, "archived", "-")
		if err != nil || done {
			errs = appendErr(errs, err)
			continue
		}
		logs, err := s.st.ListIntakeLogsByCourse(ctx, c.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.sink.Archive(ctx, c, logs); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := s.st.MarkSent(ctx, c.ID, "archived", "-"); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.st.CleanupSentMarkersBefore(ctx, now.Add(-90*24*time.Hour)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// sendOnce delivers a notification guarded by a sent marker: at most one
// delivery per (course, kind, key), surviving restarts.
func (s *Sweeper) sendOnce(ctx context.Context, c models.Course, kind, key string, event notify.Event, day int, meta map[string]string) {
	first, err := s.st.MarkSent(ctx, c.ID, kind, key)
	if err != nil || !first {
		return
	}
	to := s.userContact(ctx, c)
	if to == "" {
		return
	}
	_ = s.notifier.Send(ctx, notify.Message{
		Event:    event,
		To:       to,
		CourseID: c.ID,
		UserID:   c.UserID,
		Day:      day,
		Meta:     meta,
	})
}

func (s *Sweeper) userContact(ctx context.Context, c models.Course) string {
	u, err := s.st.GetUserByID(ctx, c.UserID)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Contact)
}

func (s *Sweeper) managerContact(ctx context.Context, c models.Course) string {
	u, err := s.st.GetUserByID(ctx, c.UserID)
	if err != nil {
		return ""
	}
	m, err := s.st.GetManagerByID(ctx, u.ManagerID)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(m.Contact)
}

// removalReason distinguishes the participant who never engaged from the one
// who engaged but struck out.
func (s *Sweeper) removalReason(ctx context.Context, c models.Course) models.RemovalReason {
	logs, err := s.st.ListIntakeLogsByCourse(ctx, c.ID)
	if err != nil {
		return models.RemovalMaxStrikes
	}
	for _, l := range logs {
		if l.MediaRef != nil {
			return models.RemovalMaxStrikes
		}
	}
	return models.RemovalNoSubmission
}

func containsDate(dates []string, date string) bool {
	for _, d := range dates {
		if d == date {
			return true
		}
	}
	return false
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}
