// Package cache holds named, TTL-bounded key/value partitions with explicit invalidation.
//
// Reads are best-effort: an unknown partition or an expired entry is a miss.
// Invalidations of an unknown partition return an error so callers can log it.
//
// Read-through callers capture Generation before loading from the store and fill the
// cache with PutIfGeneration, so a value loaded before an invalidation is never stored after it.
package cache

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trezcool/darasa/core"
)

// Partitions
const (
	ClassesByTeacher = "classes-by-teacher"
	ClassesByStudent = "classes-by-student"
	ClassNames       = "class-names"
	Users            = "users"
	AssignmentList   = "assignment-list"
	SubmittedIDs     = "submitted-ids"
)

var ErrUnknownPartition = errors.New("unknown cache partition")

type (
	PartitionConfig struct {
		Name       string
		TTL        time.Duration
		MaxEntries int
	}

	entry struct {
		value     interface{}
		expiresAt time.Time
	}

	partition struct {
		cfg   PartitionConfig
		store *expirable.LRU[string, entry]

		mu  sync.Mutex // orders generation bumps against conditional puts
		gen uint64
	}

	// Manager owns every partition of the local cache. It is safe for concurrent use.
	Manager struct {
		clock      core.Clock
		partitions map[string]*partition

		hits          *prometheus.CounterVec
		misses        *prometheus.CounterVec
		invalidations *prometheus.CounterVec
	}
)

// New returns a Manager with the given partitions. Metrics are registered on reg when it is not nil.
func New(clock core.Clock, reg prometheus.Registerer, cfgs ...PartitionConfig) (*Manager, error) {
	if clock == nil {
		clock = core.SystemClock
	}
	factory := promauto.With(reg)
	m := &Manager{
		clock:      clock,
		partitions: make(map[string]*partition, len(cfgs)),
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darasa", Subsystem: "cache", Name: "hits_total",
			Help: "Number of cache hits per partition.",
		}, []string{"partition"}),
		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darasa", Subsystem: "cache", Name: "misses_total",
			Help: "Number of cache misses per partition.",
		}, []string{"partition"}),
		invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darasa", Subsystem: "cache", Name: "invalidations_total",
			Help: "Number of key or partition invalidations per partition.",
		}, []string{"partition"}),
	}

	for _, cfg := range cfgs {
		if cfg.Name == "" || cfg.TTL <= 0 || cfg.MaxEntries <= 0 {
			return nil, errors.Errorf("invalid cache partition config: %+v", cfg)
		}
		if _, ok := m.partitions[cfg.Name]; ok {
			return nil, errors.Errorf("duplicate cache partition %q", cfg.Name)
		}
		m.partitions[cfg.Name] = &partition{
			cfg:   cfg,
			store: expirable.NewLRU[string, entry](cfg.MaxEntries, nil, cfg.TTL),
		}
	}
	return m, nil
}

// DefaultPartitions returns the partitions used by the API, sized from conf.
func DefaultPartitions(conf *core.Config) []PartitionConfig {
	size := conf.Cache.MaxEntries
	return []PartitionConfig{
		{Name: ClassesByTeacher, TTL: conf.Cache.ClassesTTL, MaxEntries: max(1, size/2)},
		{Name: ClassesByStudent, TTL: conf.Cache.ClassesTTL, MaxEntries: size},
		{Name: ClassNames, TTL: conf.Cache.ClassNamesTTL, MaxEntries: size},
		{Name: Users, TTL: conf.Cache.UsersTTL, MaxEntries: size},
		{Name: AssignmentList, TTL: conf.Cache.AssignmentTTL, MaxEntries: size},
		{Name: SubmittedIDs, TTL: conf.Cache.SubmittedTTL, MaxEntries: size},
	}
}

// NewFromConfig returns a Manager holding the DefaultPartitions.
func NewFromConfig(conf *core.Config, clock core.Clock, reg prometheus.Registerer) (*Manager, error) {
	return New(clock, reg, DefaultPartitions(conf)...)
}

// Get returns the value stored under key in the partition and whether it was found and fresh.
func (m *Manager) Get(part, key string) (interface{}, bool) {
	p, ok := m.partitions[part]
	if !ok {
		return nil, false
	}
	e, ok := p.store.Get(key)
	if ok && !m.clock().Before(e.expiresAt) {
		p.store.Remove(key)
		ok = false
	}
	if !ok {
		m.misses.WithLabelValues(part).Inc()
		return nil, false
	}
	m.hits.WithLabelValues(part).Inc()
	return e.value, true
}

// Put stores value under key. A ttl <= 0, or above the partition's TTL, is replaced by the partition's TTL.
func (m *Manager) Put(part, key string, value interface{}, ttl time.Duration) {
	p, ok := m.partitions[part]
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m.add(p, key, value, ttl)
}

// Generation returns the partition's invalidation count. Unknown partitions are at 0.
func (m *Manager) Generation(part string) uint64 {
	p, ok := m.partitions[part]
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// PutIfGeneration stores value like Put, unless the partition was invalidated since gen was read.
// It reports whether the value was stored.
func (m *Manager) PutIfGeneration(part, key string, value interface{}, ttl time.Duration, gen uint64) bool {
	p, ok := m.partitions[part]
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	m.add(p, key, value, ttl)
	return true
}

func (m *Manager) add(p *partition, key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 || ttl > p.cfg.TTL {
		ttl = p.cfg.TTL
	}
	p.store.Add(key, entry{value: value, expiresAt: m.clock().Add(ttl)})
}

// Invalidate removes a single key. It also bumps the partition's generation.
func (m *Manager) Invalidate(part, key string) error {
	p, ok := m.partitions[part]
	if !ok {
		return errors.Wrap(ErrUnknownPartition, part)
	}
	p.mu.Lock()
	p.gen++
	p.store.Remove(key)
	p.mu.Unlock()
	m.invalidations.WithLabelValues(part).Inc()
	return nil
}

// InvalidateAll clears a whole partition.
func (m *Manager) InvalidateAll(part string) error {
	p, ok := m.partitions[part]
	if !ok {
		return errors.Wrap(ErrUnknownPartition, part)
	}
	p.mu.Lock()
	p.gen++
	p.store.Purge()
	p.mu.Unlock()
	m.invalidations.WithLabelValues(part).Inc()
	return nil
}

// Len returns the number of entries held by a partition, expired ones included.
func (m *Manager) Len(part string) int {
	if p, ok := m.partitions[part]; ok {
		return p.store.Len()
	}
	return 0
}

// Get is the typed form of Manager.Get. A value of another type is a miss.
func Get[T any](m *Manager, part, key string) (T, bool) {
	var zero T
	v, ok := m.Get(part, key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Key helpers

func TeacherKey(id int) string { return "teacher:" + strconv.Itoa(id) }
func StudentKey(id int) string { return "student:" + strconv.Itoa(id) }
func ClassKey(id int) string   { return "class:" + strconv.Itoa(id) }
func UserKey(id int) string    { return "user:" + strconv.Itoa(id) }

// Join builds a composite key from parts, e.g. Join("teacher:1", "class:all") -> "teacher:1_class:all".
func Join(parts ...string) string {
	return strings.Join(parts, "_")
}

// Field renders "name:value", or "name:all" when value is nil.
func Field(name string, value interface{}) string {
	switch v := value.(type) {
	case nil:
		return name + ":all"
	case *int:
		if v == nil {
			return name + ":all"
		}
		return fmt.Sprintf("%s:%d", name, *v)
	case *bool:
		if v == nil {
			return name + ":all"
		}
		return fmt.Sprintf("%s:%t", name, *v)
	case string:
		if v == "" {
			return name + ":all"
		}
		return name + ":" + v
	default:
		return fmt.Sprintf("%s:%v", name, v)
	}
}
