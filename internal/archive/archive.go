// Package archive copies closed courses into an external reporting
// warehouse. The program database keeps only recent history; the archival
// sweep task moves everything older than the retention window out.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"adherence/internal/config"
	"adherence/internal/models"
)

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Sink receives closed courses together with their intake history.
type Sink interface {
	Archive(ctx context.Context, course models.Course, logs []models.IntakeLog) error
}

// NoopSink is used when no warehouse is configured. Courses then stay in
// the primary database indefinitely.
type NoopSink struct{}

func (NoopSink) Archive(ctx context.Context, course models.Course, logs []models.IntakeLog) error {
	return nil
}

type SQLSink struct {
	db     *sql.DB
	driver string
	table  string
}

func NewSink(cfg config.Config) (Sink, error) {
	if strings.TrimSpace(cfg.ArchiveDBDriver) == "" {
		return NoopSink{}, nil
	}
	if !identRx.MatchString(cfg.ArchiveTable) {
		return nil, fmt.Errorf("invalid archive table name %q", cfg.ArchiveTable)
	}
	db, err := sql.Open(cfg.ArchiveDBDriver, cfg.ArchiveDBDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &SQLSink{db: db, driver: cfg.ArchiveDBDriver, table: cfg.ArchiveTable}
	if err := s.ensureTable(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureTable(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		course_id      VARCHAR(64) PRIMARY KEY,
		user_id        VARCHAR(64) NOT NULL,
		status         VARCHAR(32) NOT NULL,
		removal_reason VARCHAR(32),
		total_days     INT NOT NULL,
		late_count     INT NOT NULL,
		late_dates     TEXT NOT NULL,
		appeal_count   INT NOT NULL,
		started_at     TIMESTAMP NULL,
		ended_at       TIMESTAMP NULL,
		archived_at    TIMESTAMP NOT NULL,
		intake_history TEXT NOT NULL
	)`, s.table)
	_, err := s.db.ExecContext(ctx, q)
	return err
}

// Archive upserts one course row. Re-archiving the same course overwrites the
// previous row, so the sweep task can safely retry after a partial failure.
func (s *SQLSink) Archive(ctx context.Context, course models.Course, logs []models.IntakeLog) error {
	lateDates, err := json.Marshal(course.LateDates)
	if err != nil {
		return err
	}
	history, err := json.Marshal(logs)
	if err != nil {
		return err
	}
	var reason any
	if course.RemovalReason != nil {
		reason = string(*course.RemovalReason)
	}
	archivedAt := time.Now().UTC()

	updateQ := fmt.Sprintf(
		"UPDATE %s SET user_id=%s, status=%s, removal_reason=%s, total_days=%s, late_count=%s, late_dates=%s, appeal_count=%s, started_at=%s, ended_at=%s, archived_at=%s, intake_history=%s WHERE course_id=%s",
		s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11), s.ph(12))
	args := []any{
		course.UserID, string(course.Status), reason, course.TotalDays, course.LateCount,
		string(lateDates), course.AppealCount, course.StartDate, course.UpdatedAt, archivedAt, string(history),
		course.ID,
	}
	res, err := s.db.ExecContext(ctx, updateQ, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	phs := make([]string, 12)
	for i := range phs {
		phs[i] = s.ph(i + 1)
	}
	insertQ := fmt.Sprintf(
		"INSERT INTO %s (course_id, user_id, status, removal_reason, total_days, late_count, late_dates, appeal_count, started_at, ended_at, archived_at, intake_history) VALUES (%s)",
		s.table, strings.Join(phs, ","))
	insArgs := []any{
		course.ID, course.UserID, string(course.Status), reason, course.TotalDays, course.LateCount,
		string(lateDates), course.AppealCount, course.StartDate, course.UpdatedAt, archivedAt, string(history),
	}
	if _, err := s.db.ExecContext(ctx, insertQ, insArgs...); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique") {
			_, err = s.db.ExecContext(ctx, updateQ, args...)
		}
		return err
	}
	return nil
}

func (s *SQLSink) ph(i int) string {
	if strings.Contains(strings.ToLower(s.driver), "pgx") || strings.Contains(strings.ToLower(s.driver), "postgres") {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}
