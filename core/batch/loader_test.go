package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/cache"
	"github.com/trezcool/darasa/core/user"
)

type repoMock struct {
	classNames map[int]string
	users      map[int]user.User
	submitted  map[int][]int
	err        error
	during     func() // runs inside each query, e.g. to race a write

	calls    map[string]int
	lastArgs map[string][]int
}

func newRepoMock() *repoMock {
	return &repoMock{
		classNames: map[int]string{1: "Maths", 2: "Physics", 3: "Chemistry"},
		users: map[int]user.User{
			1: {ID: 1, Name: "Teacher", PasswordHash: []byte("secret")},
			2: {ID: 2, Name: "Student"},
		},
		submitted: map[int][]int{2: {10, 11}},
		calls:     make(map[string]int),
		lastArgs:  make(map[string][]int),
	}
}

func (r *repoMock) QueryClassNamesByIDs(_ context.Context, ids []int) (map[int]string, error) {
	r.calls["classNames"]++
	r.lastArgs["classNames"] = ids
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[int]string)
	for _, id := range ids {
		if name, ok := r.classNames[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (r *repoMock) QueryUsersByIDs(_ context.Context, ids []int) ([]user.User, error) {
	r.calls["users"]++
	r.lastArgs["users"] = ids
	if r.err != nil {
		return nil, r.err
	}
	var out []user.User
	for _, id := range ids {
		if usr, ok := r.users[id]; ok {
			out = append(out, usr)
		}
	}
	return out, nil
}

func (r *repoMock) QuerySubmittedAssignmentIDs(_ context.Context, studentID int) ([]int, error) {
	r.calls["submitted"]++
	if r.during != nil {
		r.during()
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.submitted[studentID], nil
}

func newCache(t *testing.T) *cache.Manager {
	m, err := cache.New(nil, nil,
		cache.PartitionConfig{Name: cache.ClassNames, TTL: time.Hour, MaxEntries: 100},
		cache.PartitionConfig{Name: cache.Users, TTL: time.Hour, MaxEntries: 100},
		cache.PartitionConfig{Name: cache.SubmittedIDs, TTL: time.Hour, MaxEntries: 100},
	)
	require.NoError(t, err)
	return m
}

func TestLoader_ClassNamesByIDs(t *testing.T) {
	ctx := context.Background()
	repo := newRepoMock()
	l := NewLoader(repo, nil)

	names, err := l.ClassNamesByIDs(ctx, []int{1, 2, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "Maths", 2: "Physics", 3: "Chemistry"}, names)
	assert.Equal(t, 1, repo.calls["classNames"], "one query for the whole set")
	assert.Equal(t, []int{1, 2, 3}, repo.lastArgs["classNames"], "ids are deduplicated")

	names, err = l.ClassNamesByIDs(ctx, []int{1, 42})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "Maths"}, names, "unknown ids are absent")

	names, err = l.ClassNamesByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, 2, repo.calls["classNames"], "no query for an empty set")
}

func TestLoader_ClassNamesByIDs_cached(t *testing.T) {
	ctx := context.Background()
	repo := newRepoMock()
	l := NewLoader(repo, newCache(t))

	_, err := l.ClassNamesByIDs(ctx, []int{1, 2})
	require.NoError(t, err)

	names, err := l.ClassNamesByIDs(ctx, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, names, 3)
	assert.Equal(t, 2, repo.calls["classNames"])
	assert.Equal(t, []int{3}, repo.lastArgs["classNames"], "only misses are queried")

	_, err = l.ClassNamesByIDs(ctx, []int{3, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls["classNames"], "all hits")

	_, err = l.NoCache().ClassNamesByIDs(ctx, []int{1})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls["classNames"], "NoCache bypasses the cache")
}

func TestLoader_UsersByIDs(t *testing.T) {
	ctx := context.Background()
	repo := newRepoMock()
	l := NewLoader(repo, newCache(t))

	users, err := l.UsersByIDs(ctx, []int{2, 1, 1, 7})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "Teacher", users[1].Name)
	assert.Nil(t, users[1].PasswordHash, "hashes are not kept")
	assert.Equal(t, []int{1, 2, 7}, repo.lastArgs["users"])

	_, err = l.UsersByIDs(ctx, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls["users"])
}

func TestLoader_SubmittedAssignmentIDsByStudent(t *testing.T) {
	ctx := context.Background()
	repo := newRepoMock()
	c := newCache(t)
	l := NewLoader(repo, c)

	set, err := l.SubmittedAssignmentIDsByStudent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{10: {}, 11: {}}, set)

	delete(set, 10) // callers cannot corrupt the cache
	set, err = l.SubmittedAssignmentIDsByStudent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, set, 2)
	assert.Equal(t, 1, repo.calls["submitted"])

	require.NoError(t, c.InvalidateAll(cache.SubmittedIDs))
	_, err = l.SubmittedAssignmentIDsByStudent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls["submitted"])

	set, err = l.SubmittedAssignmentIDsByStudent(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestLoader_invalidatedDuringLoad(t *testing.T) {
	ctx := context.Background()
	repo := newRepoMock()
	c := newCache(t)
	l := NewLoader(repo, c)

	// a write commits and invalidates while the first load is in flight
	repo.during = func() {
		repo.during = nil
		repo.submitted[2] = []int{10, 11, 12}
		require.NoError(t, c.InvalidateAll(cache.SubmittedIDs))
	}
	set, err := l.SubmittedAssignmentIDsByStudent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, set, 3)
	assert.Zero(t, c.Len(cache.SubmittedIDs), "a load racing an invalidation is not cached")

	repo.during = func() {
		repo.during = nil
		repo.submitted[2] = []int{10}
		require.NoError(t, c.InvalidateAll(cache.SubmittedIDs))
	}
	set, err = l.SubmittedAssignmentIDsByStudent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{10: {}}, set)

	set, err = l.SubmittedAssignmentIDsByStudent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{10: {}}, set)
	assert.Equal(t, 3, repo.calls["submitted"])
}

func TestLoader_errors(t *testing.T) {
	ctx := context.Background()
	repo := newRepoMock()
	repo.err = errors.New("boom")
	l := NewLoader(repo, newCache(t))

	_, err := l.ClassNamesByIDs(ctx, []int{1})
	assert.Error(t, err)
	_, err = l.UsersByIDs(ctx, []int{1})
	assert.Error(t, err)
	_, err = l.SubmittedAssignmentIDsByStudent(ctx, 1)
	assert.Error(t, err)
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		name string
		ids  []int
		want []int
	}{
		{name: "nil", ids: nil, want: nil},
		{name: "no dupes", ids: []int{3, 1}, want: []int{1, 3}},
		{name: "dupes", ids: []int{2, 2, 1, 2}, want: []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dedupe(tt.ids))
		})
	}
}
