package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestDB_uniqueConstraints(t *testing.T) {
	db := New()
	ctx := context.Background()

	usr, err := db.CreateUser(ctx, user.User{Username: "alice", Email: "alice@example.com", Role: user.RoleStudent})
	require.NoError(t, err)
	_, err = db.CreateUser(ctx, user.User{Username: "alice", Email: "other@example.com"})
	assert.ErrorIs(t, err, user.ErrUsernameExists)
	_, err = db.CreateUser(ctx, user.User{Username: "other", Email: "alice@example.com"})
	assert.ErrorIs(t, err, user.ErrEmailExists)

	cls, err := db.CreateClass(ctx, classroom.Class{Name: "Maths", Code: "ABCD1234", TeacherID: 9, CreatedAt: t0})
	require.NoError(t, err)
	_, err = db.CreateClass(ctx, classroom.Class{Name: "Physics", Code: "ABCD1234", TeacherID: 9, CreatedAt: t0})
	assert.ErrorIs(t, err, classroom.ErrClassCodeExists)

	m := classroom.Membership{ClassID: cls.ID, StudentID: usr.ID, JoinedAt: t0}
	require.NoError(t, db.CreateMembership(ctx, m))
	assert.ErrorIs(t, db.CreateMembership(ctx, m), classroom.ErrAlreadyMember)

	a, err := db.CreateAssignment(ctx, classroom.Assignment{ClassID: cls.ID, TeacherID: 9, Title: "Homework", CreatedAt: t0})
	require.NoError(t, err)
	_, err = db.CreateSubmission(ctx, classroom.Submission{AssignmentID: a.ID, StudentID: usr.ID, SubmittedAt: t0})
	require.NoError(t, err)
	_, err = db.CreateSubmission(ctx, classroom.Submission{AssignmentID: a.ID, StudentID: usr.ID, SubmittedAt: t0})
	assert.ErrorIs(t, err, classroom.ErrAlreadySubmitted)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
}

func TestDB_RunInTx(t *testing.T) {
	db := New()
	ctx := context.Background()
	cls, err := db.CreateClass(ctx, classroom.Class{Name: "Maths", Code: "ABCD1234", CreatedAt: t0})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.RunInTx(ctx, func(tx classroom.Repository) error {
		if err := tx.DeleteClass(ctx, cls.ID); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = db.GetClassByID(ctx, cls.ID)
	assert.NoError(t, err, "rolled back")

	err = db.RunInTx(ctx, func(tx classroom.Repository) error {
		return tx.DeleteClass(ctx, cls.ID)
	})
	require.NoError(t, err)
	_, err = db.GetClassByID(ctx, cls.ID)
	assert.ErrorIs(t, err, classroom.ErrClassNotFound)
}

func TestDB_RunInTx_concurrentWrite(t *testing.T) {
	db := New()
	ctx := context.Background()
	cls, err := db.CreateClass(ctx, classroom.Class{Name: "Maths", Code: "ABCD1234", CreatedAt: t0})
	require.NoError(t, err)

	boom := errors.New("boom")
	written := make(chan error, 1)
	err = db.RunInTx(ctx, func(tx classroom.Repository) error {
		if err := tx.DeleteClass(ctx, cls.ID); err != nil {
			return err
		}
		go func() {
			_, err := db.CreateClass(ctx, classroom.Class{Name: "Physics", Code: "EFGH5678", CreatedAt: t0})
			written <- err
		}()
		select {
		case <-written:
			t.Error("write outside the transaction ran before it ended")
		case <-time.After(20 * time.Millisecond):
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, <-written)

	_, err = db.GetClassByID(ctx, cls.ID)
	assert.NoError(t, err, "rolled back")
	physics, err := db.GetClassByCode(ctx, "EFGH5678")
	require.NoError(t, err, "write made during the rollback window is kept")
	assert.Equal(t, "Physics", physics.Name)
}

func TestDB_RunInTx_nested(t *testing.T) {
	db := New()
	ctx := context.Background()
	cls, err := db.CreateClass(ctx, classroom.Class{Name: "Maths", Code: "ABCD1234", CreatedAt: t0})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.RunInTx(ctx, func(tx classroom.Repository) error {
		err := tx.RunInTx(ctx, func(inner classroom.Repository) error {
			return inner.DeleteClass(ctx, cls.ID)
		})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = db.GetClassByID(ctx, cls.ID)
	assert.NoError(t, err, "outer rollback undoes the inner write")
}

func TestDB_faultsAndCalls(t *testing.T) {
	db := New()
	ctx := context.Background()
	fault := core.Unavailable(errors.New("connection reset"), "querying")

	db.FailNext("QueryUsersByIDs", fault)
	_, err := db.QueryUsersByIDs(ctx, []int{1})
	assert.ErrorIs(t, err, core.ErrUnavailable)
	_, err = db.QueryUsersByIDs(ctx, []int{1})
	assert.NoError(t, err)
	assert.Equal(t, 2, db.Calls("QueryUsersByIDs"))

	db.ResetCalls()
	assert.Equal(t, 0, db.Calls("QueryUsersByIDs"))
}

func TestDB_QueryAssignments(t *testing.T) {
	db := New()
	ctx := context.Background()
	for i, code := range []string{"AAAAAAAA", "BBBBBBBB"} {
		_, err := db.CreateClass(ctx, classroom.Class{Name: code, Code: code, TeacherID: i + 1, CreatedAt: t0})
		require.NoError(t, err)
	}
	mk := func(classID, teacherID int, title string, at time.Time) {
		_, err := db.CreateAssignment(ctx, classroom.Assignment{ClassID: classID, TeacherID: teacherID, Title: title, CreatedAt: at})
		require.NoError(t, err)
	}
	mk(1, 1, "first", t0)
	mk(1, 1, "second", t0.Add(time.Minute))
	mk(2, 2, "third", t0.Add(time.Minute))

	titles := func(as []classroom.Assignment) []string {
		out := make([]string, 0, len(as))
		for _, a := range as {
			out = append(out, a.Title)
		}
		return out
	}

	tests := []struct {
		name      string
		teacherID int
		classIDs  []int
		want      []string
	}{
		{name: "all", want: []string{"third", "second", "first"}},
		{name: "by teacher", teacherID: 1, want: []string{"second", "first"}},
		{name: "by classes", classIDs: []int{2}, want: []string{"third"}},
		{name: "empty classes", classIDs: []int{}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			as, err := db.QueryAssignments(ctx, tt.teacherID, tt.classIDs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(as))
		})
	}
}
