package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adherence/internal/models"
)

const courseColumns = `id,user_id,status,invite_code,invite_used,total_days,extended,intake_minute,start_date,current_day,late_count,late_dates,appeal_count,appeal_deadline,appeal_media,appeal_text,removal_reason,created_at,updated_at`

func (s *Store) CreateCourse(ctx context.Context, userID, inviteCode string, totalDays int) (models.Course, error) {
	if totalDays != 21 && totalDays != 42 {
		return models.Course{}, fmt.Errorf("invalid cycle length %d", totalDays)
	}
	now := s.now()
	c := models.Course{
		ID:         uuid.NewString(),
		UserID:     userID,
		Status:     models.CourseSetup,
		InviteCode: inviteCode,
		TotalDays:  totalDays,
		LateDates:  []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO courses(id,user_id,status,invite_code,invite_used,total_days,extended,current_day,late_count,late_dates,appeal_count,created_at,updated_at)
		 VALUES(?,?,?,?,0,?,0,0,0,'[]',0,?,?)`,
		c.ID, c.UserID, c.Status, c.InviteCode, c.TotalDays, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		// The partial unique index on open courses rejects a second
		// setup/active/appeal row for the same user.
		if isUniqueViolation(err) {
			return models.Course{}, ErrConflict
		}
		return models.Course{}, err
	}
	return c, nil
}

func (s *Store) GetCourseByID(ctx context.Context, id string) (models.Course, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id=?`, id)
	return scanCourse(row)
}

func (s *Store) GetCourseByInviteCode(ctx context.Context, code string) (models.Course, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE invite_code=?`, code)
	return scanCourse(row)
}

// GetOpenCourseByUserID finds the user's non-terminal course, if any.
func (s *Store) GetOpenCourseByUserID(ctx context.Context, userID string) (models.Course, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE user_id=? AND status IN ('setup','active','appeal') LIMIT 1`, userID)
	return scanCourse(row)
}

// ActivateCourse moves setup -> active, consuming the invite code. Fails with
// ErrConflict when the course is no longer in setup or the invite was used.
func (s *Store) ActivateCourse(ctx context.Context, id string, intakeMinute int, startDate time.Time) error {
	return execExpectRow(ctx, s.db,
		`UPDATE courses SET status='active', invite_used=1, intake_minute=?, start_date=?, updated_at=?
		 WHERE id=? AND status='setup' AND invite_used=0`,
		intakeMinute, startDate, s.now(), id)
}

func (s *Store) CompleteIfActive(ctx context.Context, id string) error {
	return execExpectRow(ctx, s.db,
		`UPDATE courses SET status='completed', updated_at=? WHERE id=? AND status='active'`,
		s.now(), id)
}

// RefuseIfOpen records an explicit withdrawal from any non-terminal status.
func (s *Store) RefuseIfOpen(ctx context.Context, id string) error {
	return execExpectRow(ctx, s.db,
		`UPDATE courses SET status='refused', updated_at=? WHERE id=? AND status IN ('setup','active','appeal')`,
		s.now(), id)
}

func (s *Store) ExpireIfActive(ctx context.Context, id string, reason models.RemovalReason) error {
	return execExpectRow(ctx, s.db,
		`UPDATE courses SET status='expired', removal_reason=?, updated_at=? WHERE id=? AND status='active'`,
		reason, s.now(), id)
}

// AppealIfActive routes a removal-eligible course into its appeal window.
// The appeal budget guard lives in the predicate: at MaxAppeals the caller
// must expire instead.
func (s *Store) AppealIfActive(ctx context.Context, id string, reason models.RemovalReason, deadline time.Time) error {
	return execExpectRow(ctx, s.db,
		`UPDATE courses SET status='appeal', removal_reason=?, appeal_deadline=?, updated_at=?
		 WHERE id=? AND status='active' AND appeal_count < ?`,
		reason, deadline, s.now(), id, models.MaxAppeals)
}

// ReinstateIfAppeal resolves an approved appeal: appeal -> active, counting
// the spent appeal and clearing the removal bookkeeping. The strike that
// crossed the threshold is handed back in the same transaction: the counter
// drops by one and the triggering day's log reopens for review, so the next
// removal pass does not route the reinstated course right back to appeal.
// The struck date stays in late_dates; the list is append-only.
func (s *Store) ReinstateIfAppeal(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := s.now()
	if err := execExpectRow(ctx, tx,
		`UPDATE courses SET status='active', appeal_count=appeal_count+1,
		 late_count=CASE WHEN late_count>0 THEN late_count-1 ELSE 0 END,
		 removal_reason=NULL, appeal_deadline=NULL, appeal_media=NULL, appeal_text=NULL, updated_at=?
		 WHERE id=? AND status='appeal' AND appeal_count < ?`,
		now, id, models.MaxAppeals); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE intake_logs SET status='pending_review', review_started_at=?, updated_at=?
		 WHERE course_id=? AND status IN ('late','missed')
		 AND day=(SELECT MAX(day) FROM intake_logs WHERE course_id=? AND status IN ('late','missed'))`,
		now, now, id, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ExpireIfAppeal(ctx context.Context, id string, reason models.RemovalReason) error {
	return execExpectRow(ctx, s.db,
		`UPDATE courses SET status='expired', appeal_count=appeal_count+1, removal_reason=?, appeal_deadline=NULL, updated_at=?
		 WHERE id=? AND status='appeal'`,
		reason, s.now(), id)
}

// SaveAppealMedia attaches the participant's appeal submission while the
// appeal window is open.
func (s *Store) SaveAppealMedia(ctx context.Context, id, media, text string) error {
	return execExpectRow(ctx, s.db,
		`UPDATE courses SET appeal_media=?, appeal_text=?, updated_at=? WHERE id=? AND status='appeal'`,
		media, text, s.now(), id)
}

// AdvanceDay bumps current_day by exactly one, guarded on the previous value
// so two racing confirmations cannot double-advance.
func (s *Store) AdvanceDay(ctx context.Context, id string, newDay int) error {
	return execExpectRow(ctx, s.db,
		`UPDATE courses SET current_day=?, updated_at=? WHERE id=? AND status='active' AND current_day=?`,
		newDay, s.now(), id, newDay-1)
}

// ExtendIfActive grows a 21-day cycle to 42 days, once.
func (s *Store) ExtendIfActive(ctx context.Context, id string, newTotal int) error {
	return execExpectRow(ctx, s.db,
		`UPDATE courses SET total_days=?, extended=1, updated_at=? WHERE id=? AND status='active' AND extended=0 AND total_days < ?`,
		newTotal, s.now(), id, newTotal)
}

// Reissue resets an expired/setup course back to setup with a fresh invite
// code so the manager can restart onboarding.
func (s *Store) Reissue(ctx context.Context, id, inviteCode string) error {
	return execExpectRow(ctx, s.db,
		`UPDATE courses SET invite_code=?, invite_used=0, status='setup', intake_minute=NULL, start_date=NULL,
		 current_day=0, updated_at=? WHERE id=? AND status IN ('setup','expired')`,
		inviteCode, s.now(), id)
}

// ListActiveStarted returns active courses whose cycle has begun. Sweep tasks
// apply their own window math on top.
func (s *Store) ListActiveStarted(ctx context.Context) ([]models.Course, error) {
	return s.listCourses(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE status='active' AND start_date IS NOT NULL ORDER BY created_at ASC`)
}

func (s *Store) ListAppealPastDeadline(ctx context.Context, now time.Time) ([]models.Course, error) {
	return s.listCourses(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE status='appeal' AND appeal_deadline IS NOT NULL AND appeal_deadline < ? ORDER BY appeal_deadline ASC`,
		now)
}

// ListActiveAtStrikeThreshold returns active courses whose accumulated
// strikes already meet the removal threshold.
func (s *Store) ListActiveAtStrikeThreshold(ctx context.Context, threshold int) ([]models.Course, error) {
	return s.listCourses(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE status='active' AND late_count >= ? ORDER BY updated_at ASC`,
		threshold)
}

// ListActiveAtFinalDay returns active courses whose last day's log reached a
// terminal success state.
func (s *Store) ListActiveAtFinalDay(ctx context.Context) ([]models.Course, error) {
	return s.listCourses(ctx,
		`SELECT `+courseColumns+` FROM courses c WHERE c.status='active' AND c.current_day >= c.total_days
		 AND EXISTS (SELECT 1 FROM intake_logs l WHERE l.course_id=c.id AND l.day=c.total_days AND l.status IN ('taken','late'))`)
}

// ListTerminalEndedBefore returns completed/refused/expired courses whose last
// transition happened before the cutoff. Used by the archival sweep.
func (s *Store) ListTerminalEndedBefore(ctx context.Context, before time.Time) ([]models.Course, error) {
	return s.listCourses(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE status IN ('completed','refused','expired') AND updated_at < ? ORDER BY updated_at ASC`,
		before)
}

func (s *Store) listCourses(ctx context.Context, query string, args ...any) ([]models.Course, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCourse(row rowScanner) (models.Course, error) {
	var c models.Course
	var intakeMinute sql.NullInt64
	var startDate, appealDeadline sql.NullTime
	var appealMedia, appealText, removalReason sql.NullString
	var lateDatesRaw string
	err := row.Scan(
		&c.ID, &c.UserID, &c.Status, &c.InviteCode, &c.InviteUsed, &c.TotalDays, &c.Extended,
		&intakeMinute, &startDate, &c.CurrentDay, &c.LateCount, &lateDatesRaw,
		&c.AppealCount, &appealDeadline, &appealMedia, &appealText, &removalReason,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return models.Course{}, ErrNotFound
	}
	if err != nil {
		return models.Course{}, err
	}
	if intakeMinute.Valid {
		v := int(intakeMinute.Int64)
		c.IntakeMinute = &v
	}
	if startDate.Valid {
		t := startDate.Time
		c.StartDate = &t
	}
	if appealDeadline.Valid {
		t := appealDeadline.Time
		c.AppealDeadline = &t
	}
	if appealMedia.Valid {
		v := appealMedia.String
		c.AppealMedia = &v
	}
	if appealText.Valid {
		v := appealText.String
		c.AppealText = &v
	}
	if removalReason.Valid {
		r := models.RemovalReason(removalReason.String)
		c.RemovalReason = &r
	}
	if err := json.Unmarshal([]byte(lateDatesRaw), &c.LateDates); err != nil {
		return models.Course{}, fmt.Errorf("decode late_dates for course %s: %w", c.ID, err)
	}
	if c.LateDates == nil {
		c.LateDates = []string{}
	}
	return c, nil
}

// appendLateDate records one strike inside the given transaction. The write is
// guarded on the previously read late_count so concurrent strikers serialize;
// dates are only ever appended.
func appendLateDate(ctx context.Context, tx *sql.Tx, now time.Time, course models.Course, date string) error {
	for _, d := range course.LateDates {
		if d == date {
			return ErrConflict
		}
	}
	dates := append(append([]string{}, course.LateDates...), date)
	raw, err := json.Marshal(dates)
	if err != nil {
		return err
	}
	return execExpectRow(ctx, tx,
		`UPDATE courses SET late_count=late_count+1, late_dates=?, updated_at=? WHERE id=? AND status='active' AND late_count=?`,
		string(raw), now, course.ID, course.LateCount)
}

// AppendLateDate records a strike outside any intake-log write, e.g. when a
// late submission arrives through the API before its log exists.
func (s *Store) AppendLateDate(ctx context.Context, course models.Course, date string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := appendLateDate(ctx, tx, s.now(), course, date); err != nil {
		return err
	}
	return tx.Commit()
}
