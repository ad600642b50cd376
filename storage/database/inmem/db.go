// Package inmemdb is an in-memory store of record used by tests and local runs.
// It enforces the same unique constraints as the SQL schema.
package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
)

type membershipKey struct{ classID, studentID int }

type tables struct {
	users       map[int]user.User
	classes     map[int]classroom.Class
	memberships map[membershipKey]classroom.Membership
	assignments map[int]classroom.Assignment
	submissions map[int]classroom.Submission

	userSeq, classSeq, assignmentSeq, submissionSeq int
}

func newTables() tables {
	return tables{
		users:       make(map[int]user.User),
		classes:     make(map[int]classroom.Class),
		memberships: make(map[membershipKey]classroom.Membership),
		assignments: make(map[int]classroom.Assignment),
		submissions: make(map[int]classroom.Submission),
	}
}

func (t tables) clone() tables {
	cp := t
	cp.users = make(map[int]user.User, len(t.users))
	for k, v := range t.users {
		cp.users[k] = v
	}
	cp.classes = make(map[int]classroom.Class, len(t.classes))
	for k, v := range t.classes {
		cp.classes[k] = v
	}
	cp.memberships = make(map[membershipKey]classroom.Membership, len(t.memberships))
	for k, v := range t.memberships {
		cp.memberships[k] = v
	}
	cp.assignments = make(map[int]classroom.Assignment, len(t.assignments))
	for k, v := range t.assignments {
		cp.assignments[k] = v
	}
	cp.submissions = make(map[int]classroom.Submission, len(t.submissions))
	for k, v := range t.submissions {
		cp.submissions[k] = v
	}
	return cp
}

// DB holds every table behind one lock.
type DB struct {
	*state
	inTx bool // the handle given to a RunInTx func; mu is already held
}

type state struct {
	mu sync.RWMutex
	t  tables

	statsMu sync.Mutex
	calls   map[string]int
	faults  map[string][]error
}

var (
	// interface compliance checks
	_ user.Repository      = (*DB)(nil)
	_ classroom.Repository = (*DB)(nil)
)

func New() *DB {
	return &DB{state: &state{
		t:      newTables(),
		calls:  make(map[string]int),
		faults: make(map[string][]error),
	}}
}

func (db *DB) lock() {
	if !db.inTx {
		db.mu.Lock()
	}
}

func (db *DB) unlock() {
	if !db.inTx {
		db.mu.Unlock()
	}
}

func (db *DB) rlock() {
	if !db.inTx {
		db.mu.RLock()
	}
}

func (db *DB) runlock() {
	if !db.inTx {
		db.mu.RUnlock()
	}
}

// Calls returns how many times the named method ran.
func (db *DB) Calls(method string) int {
	db.statsMu.Lock()
	defer db.statsMu.Unlock()
	return db.calls[method]
}

func (db *DB) ResetCalls() {
	db.statsMu.Lock()
	defer db.statsMu.Unlock()
	db.calls = make(map[string]int)
}

// FailNext makes the next call of the named method return err. Calls queue up.
func (db *DB) FailNext(method string, err error) {
	db.statsMu.Lock()
	defer db.statsMu.Unlock()
	db.faults[method] = append(db.faults[method], err)
}

// track counts a call of method and returns its injected fault, if any.
func (db *DB) track(method string) error {
	db.statsMu.Lock()
	defer db.statsMu.Unlock()
	db.calls[method]++
	if errs := db.faults[method]; len(errs) > 0 {
		db.faults[method] = errs[1:]
		return errs[0]
	}
	return nil
}

// RunInTx runs fn with every table locked and restores them if it fails.
// Other callers wait until the transaction ends. Nested calls join the outer transaction.
func (db *DB) RunInTx(ctx context.Context, fn func(tx classroom.Repository) error) error {
	if err := db.track("RunInTx"); err != nil {
		return err
	}
	if db.inTx {
		return fn(db)
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	snapshot := db.t.clone()
	if err := fn(&DB{state: db.state, inTx: true}); err != nil {
		db.t = snapshot
		return err
	}
	return nil
}
