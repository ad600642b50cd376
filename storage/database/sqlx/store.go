// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/batch"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
)

// DefaultQueryTimeout bounds every statement that runs without a deadline of its own.
const DefaultQueryTimeout = 5 * time.Second

const uniqueViolation = "23505"

// Store is the store of record. Every query runs on exec, which is the pool or, inside RunInTx, a transaction.
type Store struct {
	db      *sqlx.DB
	exec    sqlx.ExtContext
	timeout time.Duration
}

var (
	// interface compliance checks
	_ user.Repository      = (*Store)(nil)
	_ classroom.Repository = (*Store)(nil)
	_ batch.Repository     = (*Store)(nil)
)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, exec: db, timeout: DefaultQueryTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return sqlx.GetContext(ctx, s.exec, dest, query, args...)
}

func (s *Store) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return sqlx.SelectContext(ctx, s.exec, dest, query, args...)
}

func (s *Store) execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insert runs a named INSERT ... RETURNING id.
func (s *Store) insert(ctx context.Context, query string, arg interface{}) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return 0, err
	}
	var id int
	err = sqlx.GetContext(ctx, s.exec, &id, s.exec.Rebind(q), args...)
	return id, err
}

// RunInTx runs fn in a transaction, committing if it returns nil. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx classroom.Repository) error) error {
	if _, ok := s.exec.(*sqlx.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.Unavailable(err, "beginning transaction")
	}
	if err = fn(&Store{db: s.db, exec: tx, timeout: s.timeout}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back: %v", rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return core.Unavailable(err, "committing transaction")
	}
	return nil
}

// constraintErrors maps unique constraints to the Conflict errors reporting them.
var constraintErrors = map[string]error{
	"users_username_key":                      user.ErrUsernameExists,
	"users_email_key":                         user.ErrEmailExists,
	"classes_code_key":                        classroom.ErrClassCodeExists,
	"class_memberships_pkey":                  classroom.ErrAlreadyMember,
	"submissions_assignment_id_student_id_key": classroom.ErrAlreadySubmitted,
}

// trapErr maps "no rows" to notFound, unique violations to their Conflict errors and anything else to Unavailable.
func trapErr(err error, msg string, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) && notFound != nil {
		return notFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if conflict, ok := constraintErrors[pqErr.Constraint]; ok {
			return conflict
		}
		return core.NewError(core.KindConflict, pqErr.Message)
	}
	return core.Unavailable(err, msg)
}

// affected turns an UPDATE/DELETE touching no row into notFound.
func affected(n int64, err error, msg string, notFound error) error {
	if err != nil {
		return trapErr(err, msg, notFound)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
