package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"adherence/internal/models"
)

const intakeColumns = `id,course_id,day,status,scheduled_at,taken_at,delay_minutes,media_ref,verified_by,confidence,review_started_at,reshoot_deadline,created_at,updated_at`

// NewIntakeLog describes a log row to insert on submission intake.
type NewIntakeLog struct {
	CourseID     string
	Day          int
	Status       models.IntakeStatus
	ScheduledAt  time.Time
	TakenAt      *time.Time
	DelayMinutes *int
	MediaRef     *string
	VerifiedBy   *string
	Confidence   *float64
}

func (s *Store) InsertIntakeLog(ctx context.Context, in NewIntakeLog) (models.IntakeLog, error) {
	now := s.now()
	l := models.IntakeLog{
		ID:           uuid.NewString(),
		CourseID:     in.CourseID,
		Day:          in.Day,
		Status:       in.Status,
		ScheduledAt:  &in.ScheduledAt,
		TakenAt:      in.TakenAt,
		DelayMinutes: in.DelayMinutes,
		MediaRef:     in.MediaRef,
		VerifiedBy:   in.VerifiedBy,
		Confidence:   in.Confidence,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Status == models.IntakePendingReview {
		l.ReviewStartedAt = in.TakenAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO intake_logs(id,course_id,day,status,scheduled_at,taken_at,delay_minutes,media_ref,verified_by,confidence,review_started_at,created_at,updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.CourseID, l.Day, l.Status, l.ScheduledAt, l.TakenAt, l.DelayMinutes, l.MediaRef, l.VerifiedBy, l.Confidence, l.ReviewStartedAt, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.IntakeLog{}, ErrConflict
		}
		return models.IntakeLog{}, err
	}
	return l, nil
}

func (s *Store) GetIntakeLogByID(ctx context.Context, id string) (models.IntakeLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+intakeColumns+` FROM intake_logs WHERE id=?`, id)
	return scanIntakeLog(row)
}

func (s *Store) GetIntakeLog(ctx context.Context, courseID string, day int) (models.IntakeLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+intakeColumns+` FROM intake_logs WHERE course_id=? AND day=?`, courseID, day)
	return scanIntakeLog(row)
}

func (s *Store) HasIntakeLog(ctx context.Context, courseID string, day int) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM intake_logs WHERE course_id=? AND day=? LIMIT 1`, courseID, day).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateIntakeStatusIf flips the log's status only when the current status
// matches the expected one.
func (s *Store) UpdateIntakeStatusIf(ctx context.Context, id string, to, expect models.IntakeStatus, verifiedBy *string) error {
	if verifiedBy != nil {
		return execExpectRow(ctx, s.db,
			`UPDATE intake_logs SET status=?, verified_by=?, updated_at=? WHERE id=? AND status=?`,
			to, *verifiedBy, s.now(), id, expect)
	}
	return execExpectRow(ctx, s.db,
		`UPDATE intake_logs SET status=?, updated_at=? WHERE id=? AND status=?`,
		to, s.now(), id, expect)
}

// SetReshoot grants a bounded re-submission window for a rejected log.
func (s *Store) SetReshoot(ctx context.Context, id string, deadline time.Time) error {
	return execExpectRow(ctx, s.db,
		`UPDATE intake_logs SET status='reshoot', reshoot_deadline=?, updated_at=? WHERE id=? AND status='rejected'`,
		deadline, s.now(), id)
}

// ResubmitReshoot re-enters review with the fresh media: reshoot -> pending_review.
func (s *Store) ResubmitReshoot(ctx context.Context, id, mediaRef string, takenAt time.Time, confidence *float64) error {
	return execExpectRow(ctx, s.db,
		`UPDATE intake_logs SET status='pending_review', media_ref=?, taken_at=?, confidence=?, review_started_at=?, updated_at=?
		 WHERE id=? AND status='reshoot'`,
		mediaRef, takenAt, confidence, takenAt, s.now(), id)
}

func (s *Store) ListPendingReviewsStartedBefore(ctx context.Context, cutoff time.Time) ([]models.IntakeLog, error) {
	return s.listIntakeLogs(ctx,
		`SELECT `+intakeColumns+` FROM intake_logs WHERE status='pending_review' AND review_started_at IS NOT NULL AND review_started_at < ? ORDER BY review_started_at ASC`,
		cutoff)
}

func (s *Store) ListExpiredReshoots(ctx context.Context, now time.Time) ([]models.IntakeLog, error) {
	return s.listIntakeLogs(ctx,
		`SELECT `+intakeColumns+` FROM intake_logs WHERE status='reshoot' AND reshoot_deadline IS NOT NULL AND reshoot_deadline < ? ORDER BY reshoot_deadline ASC`,
		now)
}

func (s *Store) ListIntakeLogsByCourse(ctx context.Context, courseID string) ([]models.IntakeLog, error) {
	return s.listIntakeLogs(ctx,
		`SELECT `+intakeColumns+` FROM intake_logs WHERE course_id=? ORDER BY day ASC`, courseID)
}

// FinalizeMissedWithStrike marks a log missed and records the strike on its
// course in one transaction, so course rules never see stale strike data.
func (s *Store) FinalizeMissedWithStrike(ctx context.Context, log models.IntakeLog, course models.Course, date string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := s.now()
	if err := execExpectRow(ctx, tx,
		`UPDATE intake_logs SET status='missed', updated_at=? WHERE id=? AND status=?`,
		now, log.ID, log.Status); err != nil {
		return err
	}
	if err := appendLateDate(ctx, tx, now, course, date); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertMissedLogWithStrike creates the day's log directly in missed state
// (no submission ever arrived) and records the strike, atomically.
func (s *Store) InsertMissedLogWithStrike(ctx context.Context, course models.Course, day int, scheduledAt time.Time, date string) (models.IntakeLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.IntakeLog{}, err
	}
	defer tx.Rollback()
	now := s.now()
	l := models.IntakeLog{
		ID:          uuid.NewString(),
		CourseID:    course.ID,
		Day:         day,
		Status:      models.IntakeMissed,
		ScheduledAt: &scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO intake_logs(id,course_id,day,status,scheduled_at,created_at,updated_at) VALUES(?,?,?,?,?,?,?)`,
		l.ID, l.CourseID, l.Day, l.Status, l.ScheduledAt, l.CreatedAt, l.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return models.IntakeLog{}, ErrConflict
		}
		return models.IntakeLog{}, err
	}
	if err := appendLateDate(ctx, tx, now, course, date); err != nil {
		return models.IntakeLog{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.IntakeLog{}, err
	}
	return l, nil
}

// InsertLateLogWithStrike records an after-window submission: the day still
// completes (late is terminal) but carries a strike, and the course advances.
func (s *Store) InsertLateLogWithStrike(ctx context.Context, course models.Course, in NewIntakeLog, date string) (models.IntakeLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.IntakeLog{}, err
	}
	defer tx.Rollback()
	now := s.now()
	l := models.IntakeLog{
		ID:           uuid.NewString(),
		CourseID:     in.CourseID,
		Day:          in.Day,
		Status:       models.IntakeLate,
		ScheduledAt:  &in.ScheduledAt,
		TakenAt:      in.TakenAt,
		DelayMinutes: in.DelayMinutes,
		MediaRef:     in.MediaRef,
		VerifiedBy:   in.VerifiedBy,
		Confidence:   in.Confidence,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO intake_logs(id,course_id,day,status,scheduled_at,taken_at,delay_minutes,media_ref,verified_by,confidence,created_at,updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.CourseID, l.Day, l.Status, l.ScheduledAt, l.TakenAt, l.DelayMinutes, l.MediaRef, l.VerifiedBy, l.Confidence, l.CreatedAt, l.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return models.IntakeLog{}, ErrConflict
		}
		return models.IntakeLog{}, err
	}
	if err := appendLateDate(ctx, tx, now, course, date); err != nil {
		return models.IntakeLog{}, err
	}
	if err := execExpectRow(ctx, tx,
		`UPDATE courses SET current_day=?, updated_at=? WHERE id=? AND status='active' AND current_day=?`,
		in.Day, now, course.ID, in.Day-1); err != nil {
		return models.IntakeLog{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.IntakeLog{}, err
	}
	return l, nil
}

func (s *Store) listIntakeLogs(ctx context.Context, query string, args ...any) ([]models.IntakeLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.IntakeLog
	for rows.Next() {
		l, err := scanIntakeLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanIntakeLog(row rowScanner) (models.IntakeLog, error) {
	var l models.IntakeLog
	var scheduledAt, takenAt, reviewStartedAt, reshootDeadline sql.NullTime
	var delay sql.NullInt64
	var mediaRef, verifiedBy sql.NullString
	var confidence sql.NullFloat64
	err := row.Scan(
		&l.ID, &l.CourseID, &l.Day, &l.Status, &scheduledAt, &takenAt, &delay,
		&mediaRef, &verifiedBy, &confidence, &reviewStartedAt, &reshootDeadline,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return models.IntakeLog{}, ErrNotFound
	}
	if err != nil {
		return models.IntakeLog{}, err
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		l.ScheduledAt = &t
	}
	if takenAt.Valid {
		t := takenAt.Time
		l.TakenAt = &t
	}
	if reviewStartedAt.Valid {
		t := reviewStartedAt.Time
		l.ReviewStartedAt = &t
	}
	if reshootDeadline.Valid {
		t := reshootDeadline.Time
		l.ReshootDeadline = &t
	}
	if delay.Valid {
		v := int(delay.Int64)
		l.DelayMinutes = &v
	}
	if mediaRef.Valid {
		v := mediaRef.String
		l.MediaRef = &v
	}
	if verifiedBy.Valid {
		v := verifiedBy.String
		l.VerifiedBy = &v
	}
	if confidence.Valid {
		v := confidence.Float64
		l.Confidence = &v
	}
	return l, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate entry")
}
