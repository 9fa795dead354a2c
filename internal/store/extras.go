package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"adherence/internal/models"
)

// MarkSent records that a sweep notification of the given kind went out for
// this course and day key. Returns false when the marker already existed,
// which makes re-sends on overlapping sweeps a no-op.
func (s *Store) MarkSent(ctx context.Context, courseID, kind, dayKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_markers(course_id,kind,day_key,created_at) VALUES(?,?,?,?)
		 ON CONFLICT(course_id,kind,day_key) DO NOTHING`,
		courseID, kind, dayKey, s.now(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) WasSent(ctx context.Context, courseID, kind, dayKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sent_markers WHERE course_id=? AND kind=? AND day_key=? LIMIT 1`,
		courseID, kind, dayKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CleanupSentMarkersBefore(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sent_markers WHERE created_at < ?`, before)
	return err
}

// CreateDocument attaches an onboarding document. Documents are writable only
// while the course is still in setup; afterwards the row set is frozen.
func (s *Store) CreateDocument(ctx context.Context, courseID, userID, kind, mediaRef string) (models.Document, error) {
	if err := s.requireCourseInSetup(ctx, courseID); err != nil {
		return models.Document{}, err
	}
	d := models.Document{ID: uuid.NewString(), CourseID: courseID, UserID: userID, Kind: kind, MediaRef: mediaRef, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(id,course_id,user_id,kind,media_ref,created_at) VALUES(?,?,?,?,?,?)`,
		d.ID, d.CourseID, d.UserID, d.Kind, d.MediaRef, d.CreatedAt,
	)
	return d, err
}

func (s *Store) CreatePaymentReceipt(ctx context.Context, courseID, userID, mediaRef, note string) (models.PaymentReceipt, error) {
	if err := s.requireCourseInSetup(ctx, courseID); err != nil {
		return models.PaymentReceipt{}, err
	}
	r := models.PaymentReceipt{ID: uuid.NewString(), CourseID: courseID, UserID: userID, MediaRef: mediaRef, Note: note, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_receipts(id,course_id,user_id,media_ref,note,created_at) VALUES(?,?,?,?,?,?)`,
		r.ID, r.CourseID, r.UserID, r.MediaRef, r.Note, r.CreatedAt,
	)
	return r, err
}

func (s *Store) ListDocumentsByCourse(ctx context.Context, courseID string) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,course_id,user_id,kind,media_ref,created_at FROM documents WHERE course_id=? ORDER BY created_at ASC`,
		courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.CourseID, &d.UserID, &d.Kind, &d.MediaRef, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) requireCourseInSetup(ctx context.Context, courseID string) error {
	var status models.CourseStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM courses WHERE id=?`, courseID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != models.CourseSetup {
		return ErrConflict
	}
	return nil
}
