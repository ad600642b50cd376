// Package batch resolves sets of ids with one store query per entity kind.
package batch

import (
	"context"
	"sort"

	"github.com/trezcool/darasa/core/cache"
	"github.com/trezcool/darasa/core/user"
)

// Repository runs the batch queries. Each call must be a single round trip.
type Repository interface {
	QueryClassNamesByIDs(ctx context.Context, ids []int) (map[int]string, error)
	QueryUsersByIDs(ctx context.Context, ids []int) ([]user.User, error)
	QuerySubmittedAssignmentIDs(ctx context.Context, studentID int) ([]int, error)
}

// Loader answers batch lookups from the cache first, then with one query for all misses.
type Loader struct {
	repo  Repository
	cache *cache.Manager // optional
}

func NewLoader(repo Repository, c *cache.Manager) *Loader {
	return &Loader{repo: repo, cache: c}
}

// NoCache returns a Loader reading straight from the store.
func (l *Loader) NoCache() *Loader {
	return &Loader{repo: l.repo}
}

// ClassNamesByIDs maps each known class id to its name. Unknown ids are absent.
func (l *Loader) ClassNamesByIDs(ctx context.Context, ids []int) (map[int]string, error) {
	ids = Dedupe(ids)
	names := make(map[int]string, len(ids))
	gen := l.generation(cache.ClassNames)
	misses := ids[:0:0]
	for _, id := range ids {
		if name, ok := l.get(cache.ClassNames, cache.ClassKey(id)); ok {
			names[id] = name.(string)
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return names, nil
	}

	found, err := l.repo.QueryClassNamesByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, name := range found {
		names[id] = name
		l.put(cache.ClassNames, cache.ClassKey(id), gen, name)
	}
	return names, nil
}

// UsersByIDs maps each known user id to its User. Unknown ids are absent.
func (l *Loader) UsersByIDs(ctx context.Context, ids []int) (map[int]user.User, error) {
	ids = Dedupe(ids)
	users := make(map[int]user.User, len(ids))
	gen := l.generation(cache.Users)
	misses := ids[:0:0]
	for _, id := range ids {
		if usr, ok := l.get(cache.Users, cache.UserKey(id)); ok {
			users[id] = usr.(user.User)
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return users, nil
	}

	found, err := l.repo.QueryUsersByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, usr := range found {
		usr.PasswordHash = nil
		users[usr.ID] = usr
		l.put(cache.Users, cache.UserKey(usr.ID), gen, usr)
	}
	return users, nil
}

// SubmittedAssignmentIDsByStudent returns the set of assignments the student currently has a submission for.
func (l *Loader) SubmittedAssignmentIDsByStudent(ctx context.Context, studentID int) (map[int]struct{}, error) {
	key := cache.StudentKey(studentID)
	gen := l.generation(cache.SubmittedIDs)
	if v, ok := l.get(cache.SubmittedIDs, key); ok {
		return copySet(v.(map[int]struct{})), nil
	}

	ids, err := l.repo.QuerySubmittedAssignmentIDs(ctx, studentID)
	if err != nil {
		return nil, err
	}
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	l.put(cache.SubmittedIDs, key, gen, copySet(set))
	return set, nil
}

func (l *Loader) get(part, key string) (interface{}, bool) {
	if l.cache == nil {
		return nil, false
	}
	return l.cache.Get(part, key)
}

func (l *Loader) generation(part string) uint64 {
	if l.cache == nil {
		return 0
	}
	return l.cache.Generation(part)
}

// put fills the cache unless part was invalidated since gen was read.
func (l *Loader) put(part, key string, gen uint64, value interface{}) {
	if l.cache != nil {
		l.cache.PutIfGeneration(part, key, value, 0, gen)
	}
}

// Dedupe returns the distinct ids, sorted.
func Dedupe(ids []int) []int {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func copySet(set map[int]struct{}) map[int]struct{} {
	cp := make(map[int]struct{}, len(set))
	for k := range set {
		cp[k] = struct{}{}
	}
	return cp
}
