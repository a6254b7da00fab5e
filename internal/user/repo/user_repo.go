package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aksihijau/service-core/internal/user/entity"
)

var (
	ErrDuplicateEmail    = errors.New("duplicate email")
	ErrDuplicateUsername = errors.New("duplicate username")
)

const userColumns = `user_id, username, email, password_hash, eco_level, is_admin,
	created_at, last_password_change, last_username_change`

// UserRepo provides data access for the users, badges and user_badges tables using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureSchema creates the tables if they do not exist and seeds the
// starter badge. Prefer migrations in production.
func (r *UserRepo) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  user_id BIGINT PRIMARY KEY,
  username TEXT NOT NULL,
  email TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  eco_level INT NOT NULL DEFAULT 1,
  is_admin BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_password_change TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_username_change TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT users_username_key UNIQUE (username),
  CONSTRAINT users_email_key UNIQUE (email)
);
CREATE TABLE IF NOT EXISTS badges (
  badge_id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT '',
  icon TEXT NOT NULL DEFAULT '',
  required_level INT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_badges_required_level ON badges(required_level);
CREATE TABLE IF NOT EXISTS user_badges (
  user_id BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
  badge_id BIGINT NOT NULL REFERENCES badges(badge_id) ON DELETE CASCADE,
  awarded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (user_id, badge_id)
);
INSERT INTO badges (name, description, icon, required_level)
VALUES ('Tunas Hijau', 'Welcome to AksiHijau: the first step of your eco journey.', 'sprout', 1)
ON CONFLICT (name) DO NOTHING;
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// FindByEmailOrUsername returns any user holding email or username, or sql.ErrNoRows.
func (r *UserRepo) FindByEmailOrUsername(ctx context.Context, email, username string) (*entity.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE email=$1 OR username=$2 LIMIT 1`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, email, username); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateWithStarterBadge inserts u and links every badge at starterLevel in a
// single transaction; either both writes land or neither does.
func (r *UserRepo) CreateWithStarterBadge(ctx context.Context, u *entity.User, starterLevel int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const insertUser = `INSERT INTO users (user_id, username, email, password_hash, eco_level, is_admin,
		created_at, last_password_change, last_username_change)
		VALUES (:user_id, :username, :email, :password_hash, :eco_level, :is_admin,
		:created_at, :last_password_change, :last_username_change)`
	if _, err := tx.NamedExecContext(ctx, insertUser, u); err != nil {
		return translate(err)
	}

	const insertBadge = `INSERT INTO user_badges (user_id, badge_id, awarded_at)
		SELECT $1, badge_id, $2 FROM badges WHERE required_level = $3
		ON CONFLICT DO NOTHING`
	if _, err := tx.ExecContext(ctx, insertBadge, u.ID, u.CreatedAt, starterLevel); err != nil {
		return fmt.Errorf("award starter badge: %w", err)
	}
	return tx.Commit()
}

// GetByID fetches a full user row or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE user_id=$1`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns a user matched by email or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, email); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByUsername fetches by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE username=$1`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, username); err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns users newest first.
func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]*entity.User, error) {
	q := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, user_id DESC LIMIT $1 OFFSET $2`
	var out []*entity.User
	if err := r.db.SelectContext(ctx, &out, q, limit, offset); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePasswordIfUnlocked writes hash only while the password clock is at or
// before unlockedBefore, so two concurrent changes cannot both pass the
// cooldown. Reports whether the row was updated.
func (r *UserRepo) UpdatePasswordIfUnlocked(ctx context.Context, id int64, hash string, now, unlockedBefore time.Time) (bool, error) {
	const q = `UPDATE users SET password_hash=$2, last_password_change=$3
		WHERE user_id=$1 AND last_password_change <= $4`
	return r.execOne(ctx, q, id, hash, now, unlockedBefore)
}

// UpdatePasswordHash replaces the hash without touching the cooldown clock.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE users SET password_hash=$2 WHERE user_id=$1`
	_, err := r.db.ExecContext(ctx, q, id, hash)
	return err
}

// UpdateUsernameIfUnlocked is the username counterpart of UpdatePasswordIfUnlocked.
func (r *UserRepo) UpdateUsernameIfUnlocked(ctx context.Context, id int64, username string, now, unlockedBefore time.Time) (bool, error) {
	const q = `UPDATE users SET username=$2, last_username_change=$3
		WHERE user_id=$1 AND last_username_change <= $4`
	return r.execOne(ctx, q, id, username, now, unlockedBefore)
}

// UpdateProfileIfUnlocked changes username and email together, gated on the username clock.
func (r *UserRepo) UpdateProfileIfUnlocked(ctx context.Context, id int64, username, email string, now, unlockedBefore time.Time) (bool, error) {
	const q = `UPDATE users SET username=$2, email=$3, last_username_change=$4
		WHERE user_id=$1 AND last_username_change <= $5`
	return r.execOne(ctx, q, id, username, email, now, unlockedBefore)
}

// UpdateEmail has no cooldown.
func (r *UserRepo) UpdateEmail(ctx context.Context, id int64, email string) (bool, error) {
	const q = `UPDATE users SET email=$2 WHERE user_id=$1`
	return r.execOne(ctx, q, id, email)
}

// BadgesFor lists the badges held by a user, lowest level first.
func (r *UserRepo) BadgesFor(ctx context.Context, userID int64) ([]entity.Badge, error) {
	const q = `SELECT b.badge_id, b.name, b.description, b.icon, b.required_level, ub.awarded_at
		FROM user_badges ub JOIN badges b ON b.badge_id = ub.badge_id
		WHERE ub.user_id=$1 ORDER BY b.required_level, ub.awarded_at`
	out := []entity.Badge{}
	if err := r.db.SelectContext(ctx, &out, q, userID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// translate maps unique violations on users to the Duplicate sentinels.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch {
		case strings.Contains(pqErr.Constraint, "email"):
			return fmt.Errorf("%w: %s", ErrDuplicateEmail, pqErr.Constraint)
		case strings.Contains(pqErr.Constraint, "username"):
			return fmt.Errorf("%w: %s", ErrDuplicateUsername, pqErr.Constraint)
		}
	}
	return err
}
