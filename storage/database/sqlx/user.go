package sqlxrepos

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core/user"
)

const userColumns = `id, name, username, email, role, password_hash, is_active, created_at, updated_at, last_login`

type userRow struct {
	ID           int       `db:"id"`
	Name         string    `db:"name"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	Role         int       `db:"role"`
	PasswordHash []byte    `db:"password_hash"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
	LastLogin    null.Time `db:"last_login"`
}

func toUserRow(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     usr.Username,
		Email:        usr.Email,
		Role:         int(usr.Role),
		PasswordHash: usr.PasswordHash,
		IsActive:     usr.IsActive,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.TimeFromPtr(usr.LastLogin),
	}
}

func (r userRow) user() user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		Role:         user.Role(r.Role),
		PasswordHash: r.PasswordHash,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    utcPtr(r.LastLogin),
	}
}

func utcPtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func (s *Store) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	excluded := make([]int64, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded = append(excluded, int64(u.ID))
	}

	var taken struct {
		Username bool `db:"username_taken"`
		Email    bool `db:"email_taken"`
	}
	err := s.get(ctx, &taken, `
		SELECT COALESCE(bool_or(username = $1), false) AS username_taken,
		       COALESCE(bool_or(email = $2), false)    AS email_taken
		FROM users
		WHERE (username = $1 OR email = $2) AND NOT (id = ANY($3))`,
		username, email, pq.Array(excluded))
	if err != nil {
		return trapErr(err, "checking user uniqueness", nil)
	}
	switch {
	case taken.Username:
		return user.ErrUsernameExists
	case taken.Email:
		return user.ErrEmailExists
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	id, err := s.insert(ctx, `
		INSERT INTO users (name, username, email, role, password_hash, is_active, created_at, updated_at, last_login)
		VALUES (:name, :username, :email, :role, :password_hash, :is_active, :created_at, :updated_at, :last_login)
		RETURNING id`, toUserRow(usr))
	if err != nil {
		return user.User{}, trapErr(err, "inserting user", nil)
	}
	usr.ID = id
	return usr, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int) (user.User, error) {
	var row userRow
	if err := s.get(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		return user.User{}, trapErr(err, "finding user by ID", user.ErrNotFound)
	}
	return row.user(), nil
}

func (s *Store) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	var row userRow
	err := s.get(ctx, &row, `SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1 LIMIT 1`, username)
	if err != nil {
		return user.User{}, trapErr(err, "finding user by username or email", user.ErrNotFound)
	}
	return row.user(), nil
}

func (s *Store) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	var row userRow
	err := s.get(ctx, &row, `
		UPDATE users
		SET name = $2, email = $3, is_active = $4, last_login = $5, updated_at = $6,
		    password_hash = COALESCE($7, password_hash)
		WHERE id = $1
		RETURNING `+userColumns,
		usr.ID, usr.Name, usr.Email, usr.IsActive, null.TimeFromPtr(usr.LastLogin), usr.UpdatedAt.UTC(),
		nullBytes(usr.PasswordHash))
	if err != nil {
		return user.User{}, trapErr(err, "updating user", user.ErrNotFound)
	}
	return row.user(), nil
}

func nullBytes(b []byte) null.Bytes {
	return null.NewBytes(b, b != nil)
}

// QueryUsersByIDs implements batch.Repository.
func (s *Store) QueryUsersByIDs(ctx context.Context, ids []int) ([]user.User, error) {
	var rows []userRow
	err := s.selectAll(ctx, &rows, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, pq.Array(toInt64s(ids)))
	if err != nil {
		return nil, trapErr(err, "querying users by IDs", nil)
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		out = append(out, int64(id))
	}
	return out
}
