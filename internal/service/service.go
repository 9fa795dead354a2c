// Package service holds the course lifecycle operations behind the HTTP
// layer. Every state transition goes through the store's conditional writes;
// a stale read surfaces as store.ErrConflict and is returned as-is so the
// caller can refetch.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"adherence/internal/config"
	"adherence/internal/models"
	"adherence/internal/notify"
	"adherence/internal/rules"
	"adherence/internal/store"
	"adherence/internal/verify"
)

var (
	ErrTooEarly      = errors.New("intake window has not opened yet")
	ErrWindowClosed  = errors.New("intake window has closed")
	ErrNotEligible   = errors.New("course is not in an eligible state")
	ErrHasOpenCourse = errors.New("user already has an open course")
)

type Service struct {
	cfg      config.Config
	st       *store.Store
	notifier notify.Notifier
	verifier verify.Verifier
	now      func() time.Time
}

func New(cfg config.Config, st *store.Store, n notify.Notifier, v verify.Verifier) *Service {
	if n == nil {
		n = notify.LogNotifier{}
	}
	if v == nil {
		v = verify.StaticVerifier{Confidence: 0.99}
	}
	return &Service{cfg: cfg, st: st, notifier: n, verifier: v, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the service clock in tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Store() *store.Store { return s.st }

func (s *Service) Windows() rules.Windows {
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

// CreateCourse opens a course in setup for the given participant and returns
// it with a fresh invite code. A participant holds at most one open course.
func (s *Service) CreateCourse(ctx context.Context, userID string, extended bool) (models.Course, error) {
	if _, err := s.st.GetUserByID(ctx, userID); err != nil {
		return models.Course{}, err
	}
	if _, err := s.st.GetOpenCourseByUserID(ctx, userID); err == nil {
		return models.Course{}, ErrHasOpenCourse
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.Course{}, err
	}
	totalDays := s.cfg.DefaultCycleLength
	if extended {
		totalDays = s.cfg.ExtendedCycleDays
	}
	code, err := newInviteCode()
	if err != nil {
		return models.Course{}, err
	}
	c, err := s.st.CreateCourse(ctx, userID, code, totalDays)
	if errors.Is(err, store.ErrConflict) {
		// Lost the race against another create; the open-course index held.
		return models.Course{}, ErrHasOpenCourse
	}
	return c, err
}

// Activate consumes an invite code and starts the course: setup -> active.
// intakeMinute is minutes since midnight UTC; startDate's calendar date is
// day 1.
func (s *Service) Activate(ctx context.Context, inviteCode string, intakeMinute int, startDate time.Time) (models.Course, error) {
	if intakeMinute < 0 || intakeMinute > 23*60+59 {
		return models.Course{}, fmt.Errorf("intake minute %d out of range", intakeMinute)
	}
	c, err := s.st.GetCourseByInviteCode(ctx, strings.TrimSpace(inviteCode))
	if err != nil {
		return models.Course{}, err
	}
	day1 := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, time.UTC)
	if err := s.st.ActivateCourse(ctx, c.ID, intakeMinute, day1); err != nil {
		return models.Course{}, err
	}
	return s.st.GetCourseByID(ctx, c.ID)
}

// Refuse closes an open course at the participant's request: setup or
// active -> refused. Refusal is final and not appealable.
func (s *Service) Refuse(ctx context.Context, courseID string) error {
	return s.st.RefuseIfOpen(ctx, courseID)
}

// ReissueInvite replaces the invite code of a setup course whose previous
// code leaked or expired. Returns the new code.
func (s *Service) ReissueInvite(ctx context.Context, courseID string) (string, error) {
	code, err := newInviteCode()
	if err != nil {
		return "", err
	}
	if err := s.st.Reissue(ctx, courseID, code); err != nil {
		return "", err
	}
	return code, nil
}

// Extend switches an active standard course to the extended cycle length.
// Allowed once per course.
func (s *Service) Extend(ctx context.Context, courseID string) (models.Course, error) {
	if err := s.st.ExtendIfActive(ctx, courseID, s.cfg.ExtendedCycleDays); err != nil {
		return models.Course{}, err
	}
	return s.st.GetCourseByID(ctx, courseID)
}

// SubmitIntake records the expected day's submission. The verdict depends on
// where now falls in the window and on the verifier's confidence:
// on time + confident -> taken; after the grace period -> late with a
// strike; low confidence -> pending_review for a manager to decide.
func (s *Service) SubmitIntake(ctx context.Context, courseID, mediaURL string) (models.IntakeLog, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return models.IntakeLog{}, fmt.Errorf("media url is required")
	}
	c, err := s.st.GetCourseByID(ctx, courseID)
	if err != nil {
		return models.IntakeLog{}, err
	}
	if c.Status != models.CourseActive || c.StartDate == nil || c.IntakeMinute == nil {
		return models.IntakeLog{}, ErrNotEligible
	}
	now := s.now()
	day, scheduled, phase := rules.Classify(c, now, s.Windows())
	switch phase {
	case rules.PhaseEarly:
		return models.IntakeLog{}, ErrTooEarly
	case rules.PhaseClosed:
		return models.IntakeLog{}, ErrWindowClosed
	}
	if ok, err := s.st.HasIntakeLog(ctx, c.ID, day); err != nil {
		return models.IntakeLog{}, err
	} else if ok {
		return models.IntakeLog{}, store.ErrConflict
	}

	res, err := s.verifier.Evaluate(ctx, verify.Submission{
		CourseID: c.ID, UserID: c.UserID, Day: day, MediaURL: mediaURL,
	})
	if err != nil {
		return models.IntakeLog{}, fmt.Errorf("verification failed: %w", err)
	}

	taken := now
	in := store.NewIntakeLog{
		CourseID:     c.ID,
		Day:          day,
		ScheduledAt:  scheduled,
		TakenAt:      &taken,
		DelayMinutes: rules.DelayMinutes(scheduled, taken),
		MediaRef:     &mediaURL,
		Confidence:   &res.Confidence,
	}

	if res.Confidence < s.cfg.ConfidenceThreshold {
		in.Status = models.IntakePendingReview
		return s.st.InsertIntakeLog(ctx, in)
	}

	if phase == rules.PhaseLate {
		log, err := s.st.InsertLateLogWithStrike(ctx, c, in, rules.DayKey(scheduled))
		if err != nil {
			return models.IntakeLog{}, err
		}
		s.notifyUser(ctx, c, notify.EventLateStrike, day, nil)
		return log, nil
	}

	in.Status = models.IntakeTaken
	log, err := s.st.InsertIntakeLog(ctx, in)
	if err != nil {
		return models.IntakeLog{}, err
	}
	if err := s.st.AdvanceDay(ctx, c.ID, day); err != nil && !errors.Is(err, store.ErrConflict) {
		return models.IntakeLog{}, err
	}
	return log, nil
}

// ConfirmReview settles a pending review as accepted. The day completes as
// taken, or as late with a strike when the original submission arrived after
// the grace period.
func (s *Service) ConfirmReview(ctx context.Context, managerID, logID string) (models.IntakeLog, error) {
	l, err := s.st.GetIntakeLogByID(ctx, logID)
	if err != nil {
		return models.IntakeLog{}, err
	}
	if l.Status != models.IntakePendingReview {
		return models.IntakeLog{}, store.ErrConflict
	}
	c, err := s.st.GetCourseByID(ctx, l.CourseID)
	if err != nil {
		return models.IntakeLog{}, err
	}

	wasLate := l.DelayMinutes != nil && time.Duration(*l.DelayMinutes)*time.Minute >= s.cfg.LateAfter
	to := models.IntakeTaken
	if wasLate {
		to = models.IntakeLate
	}
	if err := s.st.UpdateIntakeStatusIf(ctx, logID, to, models.IntakePendingReview, &managerID); err != nil {
		return models.IntakeLog{}, err
	}
	if wasLate && l.ScheduledAt != nil {
		if err := s.st.AppendLateDate(ctx, c, rules.DayKey(*l.ScheduledAt)); err != nil && !errors.Is(err, store.ErrConflict) {
			return models.IntakeLog{}, err
		}
		s.notifyUser(ctx, c, notify.EventLateStrike, l.Day, nil)
	}
	if err := s.st.AdvanceDay(ctx, c.ID, l.Day); err != nil && !errors.Is(err, store.ErrConflict) {
		return models.IntakeLog{}, err
	}
	return s.st.GetIntakeLogByID(ctx, logID)
}

// RejectReview settles a pending review as not accepted. A first rejection
// grants a bounded reshoot window; a rejection of a reshoot finalizes the
// day as missed with a strike.
func (s *Service) RejectReview(ctx context.Context, managerID, logID string) (models.IntakeLog, error) {
	l, err := s.st.GetIntakeLogByID(ctx, logID)
	if err != nil {
		return models.IntakeLog{}, err
	}
	if l.Status != models.IntakePendingReview {
		return models.IntakeLog{}, store.ErrConflict
	}
	c, err := s.st.GetCourseByID(ctx, l.CourseID)
	if err != nil {
		return models.IntakeLog{}, err
	}

	if err := s.st.UpdateIntakeStatusIf(ctx, logID, models.IntakeRejected, models.IntakePendingReview, &managerID); err != nil {
		return models.IntakeLog{}, err
	}

	if l.ReshootDeadline != nil {
		// Second rejection: the reshoot budget is spent.
		l.Status = models.IntakeRejected
		date := rules.DayKey(s.now())
		if l.ScheduledAt != nil {
			date = rules.DayKey(*l.ScheduledAt)
		}
		if err := s.st.FinalizeMissedWithStrike(ctx, l, c, date); err != nil {
			return models.IntakeLog{}, err
		}
		if err := s.st.AdvanceDay(ctx, c.ID, l.Day); err != nil && !errors.Is(err, store.ErrConflict) {
			return models.IntakeLog{}, err
		}
		s.notifyUser(ctx, c, notify.EventMissedDay, l.Day, nil)
		return s.st.GetIntakeLogByID(ctx, logID)
	}

	if err := s.st.SetReshoot(ctx, logID, rules.ReshootDeadline(s.now(), s.Windows())); err != nil {
		return models.IntakeLog{}, err
	}
	return s.st.GetIntakeLogByID(ctx, logID)
}

// ResubmitReshoot replaces a rejected submission within the reshoot window
// and re-enters manual review.
func (s *Service) ResubmitReshoot(ctx context.Context, logID, mediaURL string) (models.IntakeLog, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return models.IntakeLog{}, fmt.Errorf("media url is required")
	}
	l, err := s.st.GetIntakeLogByID(ctx, logID)
	if err != nil {
		return models.IntakeLog{}, err
	}
	if l.Status != models.IntakeReshoot {
		return models.IntakeLog{}, store.ErrConflict
	}
	now := s.now()
	if l.ReshootDeadline != nil && now.After(*l.ReshootDeadline) {
		return models.IntakeLog{}, ErrWindowClosed
	}
	c, err := s.st.GetCourseByID(ctx, l.CourseID)
	if err != nil {
		return models.IntakeLog{}, err
	}
	res, err := s.verifier.Evaluate(ctx, verify.Submission{
		CourseID: c.ID, UserID: c.UserID, Day: l.Day, MediaURL: mediaURL,
	})
	if err != nil {
		return models.IntakeLog{}, fmt.Errorf("verification failed: %w", err)
	}
	if err := s.st.ResubmitReshoot(ctx, logID, mediaURL, now, &res.Confidence); err != nil {
		return models.IntakeLog{}, err
	}
	return s.st.GetIntakeLogByID(ctx, logID)
}

// SubmitAppeal attaches the participant's supporting material to an open
// appeal. The appeal-expiry sweep skips courses with material attached, so
// submission freezes the deadline until a manager decides.
func (s *Service) SubmitAppeal(ctx context.Context, courseID, mediaURL, text string) (models.Course, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return models.Course{}, fmt.Errorf("media url is required")
	}
	c, err := s.st.GetCourseByID(ctx, courseID)
	if err != nil {
		return models.Course{}, err
	}
	if c.Status != models.CourseAppeal {
		return models.Course{}, ErrNotEligible
	}
	if c.AppealDeadline != nil && s.now().After(*c.AppealDeadline) {
		return models.Course{}, ErrWindowClosed
	}
	if err := s.st.SaveAppealMedia(ctx, courseID, mediaURL, text); err != nil {
		return models.Course{}, err
	}
	return s.st.GetCourseByID(ctx, courseID)
}

// ApproveAppeal reinstates the course: appeal -> active. The appeal budget
// is spent either way. The triggering strike is handed back (counter down,
// its log reopened for review); missed days are not restored.
func (s *Service) ApproveAppeal(ctx context.Context, managerID, courseID string) (models.Course, error) {
	_ = managerID
	if err := s.st.ReinstateIfAppeal(ctx, courseID); err != nil {
		return models.Course{}, err
	}
	c, err := s.st.GetCourseByID(ctx, courseID)
	if err != nil {
		return models.Course{}, err
	}
	s.notifyUser(ctx, c, notify.EventAppealApproved, 0, nil)
	return c, nil
}

// DeclineAppeal closes the course: appeal -> expired.
func (s *Service) DeclineAppeal(ctx context.Context, managerID, courseID string) (models.Course, error) {
	_ = managerID
	if err := s.st.ExpireIfAppeal(ctx, courseID, models.RemovalAppealDeclined); err != nil {
		return models.Course{}, err
	}
	c, err := s.st.GetCourseByID(ctx, courseID)
	if err != nil {
		return models.Course{}, err
	}
	s.notifyUser(ctx, c, notify.EventAppealDeclined, 0, nil)
	return c, nil
}

// AddDocument stores enrollment paperwork. Allowed only while the course is
// still in setup.
func (s *Service) AddDocument(ctx context.Context, courseID, kind, mediaRef string) (models.Document, error) {
	c, err := s.st.GetCourseByID(ctx, courseID)
	if err != nil {
		return models.Document{}, err
	}
	return s.st.CreateDocument(ctx, c.ID, c.UserID, kind, mediaRef)
}

// AddPaymentReceipt stores a payment confirmation during setup.
func (s *Service) AddPaymentReceipt(ctx context.Context, courseID, mediaRef, note string) (models.PaymentReceipt, error) {
	c, err := s.st.GetCourseByID(ctx, courseID)
	if err != nil {
		return models.PaymentReceipt{}, err
	}
	return s.st.CreatePaymentReceipt(ctx, c.ID, c.UserID, mediaRef, note)
}

// CourseDetail is the full read model for one course.
type CourseDetail struct {
	Course    models.Course
	Logs      []models.IntakeLog
	Documents []models.Document
}

func (s *Service) CourseDetail(ctx context.Context, courseID string) (CourseDetail, error) {
	c, err := s.st.GetCourseByID(ctx, courseID)
	if err != nil {
		return CourseDetail{}, err
	}
	logs, err := s.st.ListIntakeLogsByCourse(ctx, courseID)
	if err != nil {
		return CourseDetail{}, err
	}
	docs, err := s.st.ListDocumentsByCourse(ctx, courseID)
	if err != nil {
		return CourseDetail{}, err
	}
	return CourseDetail{Course: c, Logs: logs, Documents: docs}, nil
}

func (s *Service) notifyUser(ctx context.Context, c models.Course, event notify.Event, day int, meta map[string]string) {
	u, err := s.st.GetUserByID(ctx, c.UserID)
	if err != nil || strings.TrimSpace(u.Contact) == "" {
		return
	}
	msg := notify.Message{
		Event:    event,
		To:       u.Contact,
		CourseID: c.ID,
		UserID:   c.UserID,
		Day:      day,
		Meta:     meta,
	}
	// Best effort; sweep-driven notifications go through sent markers
	// and retry on the next tick.
	_ = s.notifier.Send(ctx, msg)
}

var inviteEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func newInviteCode() (string, error) {
	var b [10]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return strings.ToLower(inviteEncoding.EncodeToString(b[:])), nil
}
