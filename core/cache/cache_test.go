package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, reg prometheus.Registerer) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	m, err := New(clock.Now, reg,
		PartitionConfig{Name: ClassNames, TTL: time.Hour, MaxEntries: 3},
		PartitionConfig{Name: AssignmentList, TTL: 15 * time.Minute, MaxEntries: 10},
	)
	require.NoError(t, err)
	return m, clock
}

func TestNew_invalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfgs []PartitionConfig
	}{
		{name: "no name", cfgs: []PartitionConfig{{TTL: time.Minute, MaxEntries: 1}}},
		{name: "no ttl", cfgs: []PartitionConfig{{Name: "p", MaxEntries: 1}}},
		{name: "no size", cfgs: []PartitionConfig{{Name: "p", TTL: time.Minute}}},
		{
			name: "duplicate",
			cfgs: []PartitionConfig{{Name: "p", TTL: time.Minute, MaxEntries: 1}, {Name: "p", TTL: time.Minute, MaxEntries: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil, nil, tt.cfgs...)
			assert.Error(t, err)
		})
	}
}

func TestManager_GetPut(t *testing.T) {
	m, clock := newTestManager(t, nil)

	_, hit := m.Get(ClassNames, ClassKey(1))
	assert.False(t, hit)

	m.Put(ClassNames, ClassKey(1), "Maths", 0)
	v, hit := m.Get(ClassNames, ClassKey(1))
	assert.True(t, hit)
	assert.Equal(t, "Maths", v)

	name, hit := Get[string](m, ClassNames, ClassKey(1))
	assert.True(t, hit)
	assert.Equal(t, "Maths", name)

	_, hit = Get[int](m, ClassNames, ClassKey(1))
	assert.False(t, hit, "wrong type is a miss")

	// never served at or past its ttl
	clock.Advance(time.Hour - time.Nanosecond)
	_, hit = m.Get(ClassNames, ClassKey(1))
	assert.True(t, hit)
	clock.Advance(time.Nanosecond)
	_, hit = m.Get(ClassNames, ClassKey(1))
	assert.False(t, hit)
}

func TestManager_PutTTL(t *testing.T) {
	m, clock := newTestManager(t, nil)

	m.Put(AssignmentList, "short", 1, time.Minute)
	m.Put(AssignmentList, "capped", 2, 10*time.Hour)

	clock.Advance(time.Minute)
	_, hit := m.Get(AssignmentList, "short")
	assert.False(t, hit)
	_, hit = m.Get(AssignmentList, "capped")
	assert.True(t, hit)

	clock.Advance(14 * time.Minute)
	_, hit = m.Get(AssignmentList, "capped")
	assert.False(t, hit, "ttl is capped at the partition's ttl")
}

func TestManager_Eviction(t *testing.T) {
	m, _ := newTestManager(t, nil)

	for i := 1; i <= 4; i++ {
		m.Put(ClassNames, ClassKey(i), i, 0)
	}
	assert.Equal(t, 3, m.Len(ClassNames))
	_, hit := m.Get(ClassNames, ClassKey(1))
	assert.False(t, hit, "least recently used entry is evicted")
}

func TestManager_Invalidate(t *testing.T) {
	m, _ := newTestManager(t, nil)

	m.Put(ClassNames, ClassKey(1), "Maths", 0)
	m.Put(ClassNames, ClassKey(2), "Physics", 0)
	m.Put(AssignmentList, "teacher:1", []int{1}, 0)

	require.NoError(t, m.Invalidate(ClassNames, ClassKey(1)))
	_, hit := m.Get(ClassNames, ClassKey(1))
	assert.False(t, hit)
	_, hit = m.Get(ClassNames, ClassKey(2))
	assert.True(t, hit)

	require.NoError(t, m.InvalidateAll(ClassNames))
	_, hit = m.Get(ClassNames, ClassKey(2))
	assert.False(t, hit)
	_, hit = m.Get(AssignmentList, "teacher:1")
	assert.True(t, hit, "other partitions are untouched")

	assert.ErrorIs(t, m.Invalidate("nope", "k"), ErrUnknownPartition)
	assert.ErrorIs(t, m.InvalidateAll("nope"), ErrUnknownPartition)

	// unknown partitions are misses on read and no-ops on write
	m.Put("nope", "k", 1, 0)
	_, hit = m.Get("nope", "k")
	assert.False(t, hit)
}

func TestManager_PutIfGeneration(t *testing.T) {
	m, _ := newTestManager(t, nil)

	tests := []struct {
		name       string
		invalidate func()
		wantStored bool
	}{
		{name: "no invalidation", invalidate: func() {}, wantStored: true},
		{name: "partition cleared during load", invalidate: func() { _ = m.InvalidateAll(AssignmentList) }},
		{name: "key removed during load", invalidate: func() { _ = m.Invalidate(AssignmentList, "other") }},
		{name: "other partition cleared", invalidate: func() { _ = m.InvalidateAll(ClassNames) }, wantStored: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, m.InvalidateAll(AssignmentList))
			gen := m.Generation(AssignmentList)
			tt.invalidate()

			assert.Equal(t, tt.wantStored, m.PutIfGeneration(AssignmentList, "teacher:1", []int{1}, 0, gen))
			_, hit := m.Get(AssignmentList, "teacher:1")
			assert.Equal(t, tt.wantStored, hit)
		})
	}

	assert.False(t, m.PutIfGeneration("nope", "k", 1, 0, m.Generation("nope")))
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := newTestManager(t, reg)

	m.Get(ClassNames, "a")
	m.Put(ClassNames, "a", 1, 0)
	m.Get(ClassNames, "a")
	m.Get(ClassNames, "a")
	_ = m.InvalidateAll(ClassNames)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.hits.WithLabelValues(ClassNames)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.misses.WithLabelValues(ClassNames)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.invalidations.WithLabelValues(ClassNames)))
}

func TestKeys(t *testing.T) {
	classID := 4
	submitted := false
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "teacher list", got: Join(TeacherKey(1), Field("class", &classID), Field("student", "")), want: "teacher:1_class:4_student:all"},
		{name: "teacher list all", got: Join(TeacherKey(1), Field("class", (*int)(nil)), Field("student", "a@b.c")), want: "teacher:1_class:all_student:a@b.c"},
		{name: "student list", got: Join(StudentKey(2), Field("submitted", &submitted)), want: "student:2_submitted:false"},
		{name: "student list all", got: Join(StudentKey(2), Field("submitted", nil)), want: "student:2_submitted:all"},
		{name: "user", got: UserKey(9), want: "user:9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}
