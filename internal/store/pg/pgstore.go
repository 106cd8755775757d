// Package pg is the Postgres store. It implements both persistence
// boundaries (identity.Store and emergency.Store) over database/sql with the
// pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"resqlink.org/internal/emergency"
	"resqlink.org/internal/identity"
)

const pgErrUniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var (
	_ identity.Store  = (*Store)(nil)
	_ emergency.Store = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- identity.Store ---

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (real_id, name, email, phone, password_hash, role, assigned_village, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.RealID, u.Name, u.Email, u.Phone, u.PasswordHash, u.Role, u.AssignedVillage, u.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return identity.ErrConflict
	}
	return err
}

func (s *Store) FindUser(ctx context.Context, realID string) (*identity.User, error) {
	return s.findUser(ctx, `where real_id = $1`, realID)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.findUser(ctx, `where email = $1`, email)
}

func (s *Store) findUser(ctx context.Context, where string, arg any) (*identity.User, error) {
	var u identity.User
	err := s.db.QueryRowContext(ctx, `
		select real_id, name, email, phone, password_hash, role, assigned_village, created_at
		from users `+where, arg,
	).Scan(&u.RealID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.AssignedVillage, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsersByVillage(ctx context.Context, villageID int64) ([]*identity.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select real_id, name, email, phone, password_hash, role, assigned_village, created_at
		from users
		where assigned_village = $1
		order by real_id
	`, villageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*identity.User
	for rows.Next() {
		var u identity.User
		if err := rows.Scan(&u.RealID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.AssignedVillage, &u.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &u)
	}
	return result, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, u *identity.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set name = $2, email = $3, phone = $4, password_hash = $5, role = $6, assigned_village = $7
		where real_id = $1
	`, u.RealID, u.Name, u.Email, u.Phone, u.PasswordHash, u.Role, u.AssignedVillage)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return identity.ErrConflict
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) SupAccessFor(ctx context.Context, userID string) (*identity.SupAccess, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		select village_list from sup_access where user_id = $1
	`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	access := identity.SupAccess{UserID: userID}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &access.Villages); err != nil {
			return nil, fmt.Errorf("decode village_list: %w", err)
		}
	}
	return &access, nil
}

func (s *Store) UpsertSupAccess(ctx context.Context, access *identity.SupAccess) error {
	raw, err := json.Marshal(access.Villages)
	if err != nil {
		return fmt.Errorf("encode village_list: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into sup_access (user_id, village_list)
		values ($1, $2)
		on conflict (user_id) do update set village_list = excluded.village_list
	`, access.UserID, raw)
	return err
}

func (s *Store) VillageExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from villages where id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
