package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"adherence/internal/db"
	"adherence/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sqdb.Close() })
	if err := db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(sqdb)
}

func seedActiveCourse(t *testing.T, st *Store) models.Course {
	t.Helper()
	ctx := context.Background()
	m, err := st.CreateManager(ctx, "mgr", "mgr@example.com", "h")
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	u, err := st.CreateUser(ctx, "participant", m.ID, "user@example.com", nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	c, err := st.CreateCourse(ctx, u.ID, "invite-"+u.ID, 21)
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := st.ActivateCourse(ctx, c.ID, 9*60, start); err != nil {
		t.Fatalf("activate: %v", err)
	}
	c, err = st.GetCourseByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get course: %v", err)
	}
	return c
}

// Two conditional writes contending for the same active course: exactly one
// lands, the other observes the changed predicate and gets ErrConflict.
func TestConditionalWritesSingleWinner(t *testing.T) {
	st := newTestStore(t)
	c := seedActiveCourse(t, st)
	ctx := context.Background()

	results := make(chan error, 2)
	var start sync.WaitGroup
	start.Add(1)
	go func() {
		start.Wait()
		results <- st.CompleteIfActive(ctx, c.ID)
	}()
	go func() {
		start.Wait()
		results <- st.ExpireIfActive(ctx, c.ID, models.RemovalMaxStrikes)
	}()
	start.Done()

	var wins, conflicts int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d, conflicts = %d, want exactly one of each", wins, conflicts)
	}

	got, err := st.GetCourseByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get course: %v", err)
	}
	if got.Status != models.CourseCompleted && got.Status != models.CourseExpired {
		t.Fatalf("status = %s, want a single terminal state", got.Status)
	}
}

func TestAdvanceDaySingleWinner(t *testing.T) {
	st := newTestStore(t)
	c := seedActiveCourse(t, st)
	ctx := context.Background()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- st.AdvanceDay(ctx, c.ID, 1) }()
	}
	var wins, conflicts int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d, conflicts = %d, want exactly one of each", wins, conflicts)
	}
	got, _ := st.GetCourseByID(ctx, c.ID)
	if got.CurrentDay != 1 {
		t.Fatalf("current_day = %d, want 1", got.CurrentDay)
	}
}

// The partial unique index keeps a user at one open course even when the
// insert bypasses the service-level read check.
func TestOpenCourseUniqueGuard(t *testing.T) {
	st := newTestStore(t)
	c := seedActiveCourse(t, st)
	ctx := context.Background()

	if _, err := st.CreateCourse(ctx, c.UserID, "invite-second", 21); !errors.Is(err, ErrConflict) {
		t.Fatalf("second open course: err = %v, want ErrConflict", err)
	}

	// Once the course is terminal a new one may start.
	if err := st.RefuseIfOpen(ctx, c.ID); err != nil {
		t.Fatalf("refuse: %v", err)
	}
	if _, err := st.CreateCourse(ctx, c.UserID, "invite-third", 21); err != nil {
		t.Fatalf("create after terminal: %v", err)
	}
}
