package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"adherence/internal/models"
)

var ErrNotFound = errors.New("not found")

// ErrConflict signals that a conditional write observed a different status
// than expected. Callers treat it as a lost race, not a failure.
var ErrConflict = errors.New("conflict")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(sqdb *sql.DB) *Store {
	return &Store{db: sqdb, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the store's wall clock. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// execExpectRow runs a conditional write and maps zero affected rows to
// ErrConflict.
func execExpectRow(ctx context.Context, ex execer, query string, args ...any) error {
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) CreateManager(ctx context.Context, name, contact, tokenHash string) (models.Manager, error) {
	m := models.Manager{ID: uuid.NewString(), Name: name, Contact: contact, TokenHash: tokenHash, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO managers(id,name,contact,token_hash,created_at) VALUES(?,?,?,?,?)`,
		m.ID, m.Name, m.Contact, m.TokenHash, m.CreatedAt,
	)
	return m, err
}

// EnsureManager bootstraps a named manager with the given token hash,
// creating or updating as needed.
func (s *Store) EnsureManager(ctx context.Context, name, tokenHash string) error {
	name = strings.TrimSpace(name)
	if name == "" || tokenHash == "" {
		return nil
	}
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM managers WHERE name=?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		_, err = s.CreateManager(ctx, name, "", tokenHash)
		return err
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE managers SET token_hash=? WHERE id=?`, tokenHash, id)
	return err
}

func (s *Store) GetManagerByID(ctx context.Context, id string) (models.Manager, error) {
	var m models.Manager
	err := s.db.QueryRowContext(ctx,
		`SELECT id,name,contact,token_hash,created_at FROM managers WHERE id=?`, id,
	).Scan(&m.ID, &m.Name, &m.Contact, &m.TokenHash, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Manager{}, ErrNotFound
	}
	return m, err
}

func (s *Store) ListManagers(ctx context.Context) ([]models.Manager, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,name,contact,token_hash,created_at FROM managers ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Manager
	for rows.Next() {
		var m models.Manager
		if err := rows.Scan(&m.ID, &m.Name, &m.Contact, &m.TokenHash, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, name, managerID, contact string, birthDate *time.Time) (models.User, error) {
	u := models.User{ID: uuid.NewString(), Name: name, ManagerID: managerID, Contact: contact, BirthDate: birthDate, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id,name,manager_id,contact,birth_date,created_at) VALUES(?,?,?,?,?,?)`,
		u.ID, u.Name, u.ManagerID, u.Contact, u.BirthDate, u.CreatedAt,
	)
	return u, err
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	var birth sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id,name,manager_id,contact,birth_date,created_at FROM users WHERE id=?`, id,
	).Scan(&u.ID, &u.Name, &u.ManagerID, &u.Contact, &birth, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	if birth.Valid {
		t := birth.Time
		u.BirthDate = &t
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id, name, contact string) error {
	return execExpectRow(ctx, s.db, `UPDATE users SET name=?, contact=? WHERE id=?`, name, contact, id)
}
