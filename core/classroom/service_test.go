package classroom_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/batch"
	"github.com/trezcool/darasa/core/cache"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type recordingLogger struct {
	nopLogger
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) errorMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

type memFiles struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memFiles) Save(_ context.Context, name string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = b
	return name, nil
}

func (m *memFiles) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[ref]
	if !ok {
		return nil, classroom.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memFiles) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, ref)
	return nil
}

func (m *memFiles) has(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[ref]
	return ok
}

type mailbox struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *mailbox) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, messages...)
}

type env struct {
	db          *inmemdb.DB
	cache       *cache.Manager
	clock       *testClock
	files       *memFiles
	mail        *mailbox
	classes     *classroom.ClassService
	assignments *classroom.AssignmentService
}

// envRepo is the store a test env runs its services against.
type envRepo interface {
	classroom.Repository
	batch.Repository
}

type envConfig struct {
	repo   func(db *inmemdb.DB) envRepo
	parts  []cache.PartitionConfig
	logger core.Logger
}

type envOption func(*envConfig)

// withRepo wraps the in-memory store, e.g. to stall or fail some queries.
func withRepo(wrap func(db *inmemdb.DB) envRepo) envOption {
	return func(cfg *envConfig) { cfg.repo = wrap }
}

// withoutPartition drops name from the cache, so invalidating it fails.
func withoutPartition(name string) envOption {
	return func(cfg *envConfig) {
		parts := cfg.parts[:0]
		for _, p := range cfg.parts {
			if p.Name != name {
				parts = append(parts, p)
			}
		}
		cfg.parts = parts
	}
}

func withLogger(l core.Logger) envOption {
	return func(cfg *envConfig) { cfg.logger = l }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()

	cfg := envConfig{
		repo: func(db *inmemdb.DB) envRepo { return db },
		parts: []cache.PartitionConfig{
			{Name: cache.ClassesByTeacher, TTL: time.Hour, MaxEntries: 100},
			{Name: cache.ClassesByStudent, TTL: time.Hour, MaxEntries: 100},
			{Name: cache.ClassNames, TTL: time.Hour, MaxEntries: 100},
			{Name: cache.Users, TTL: 30 * time.Minute, MaxEntries: 100},
			{Name: cache.AssignmentList, TTL: 15 * time.Minute, MaxEntries: 100},
			{Name: cache.SubmittedIDs, TTL: 10 * time.Minute, MaxEntries: 100},
		},
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	c, err := cache.New(clock.Now, nil, cfg.parts...)
	require.NoError(t, err)

	db := inmemdb.New()
	repo := cfg.repo(db)
	e := &env{
		db:    db,
		cache: c,
		clock: clock,
		files: &memFiles{files: make(map[string][]byte)},
		mail:  new(mailbox),
	}
	svcOpts := classroom.Options{
		Repo:        repo,
		Users:       db,
		Loader:      batch.NewLoader(repo, c),
		Cache:       c,
		Files:       e.files,
		MaxFileSize: 1 << 20,
		Email:       e.mail,
		Logger:      cfg.logger,
		Clock:       clock.Now,
	}
	e.classes = classroom.NewClassService(svcOpts)
	e.assignments = classroom.NewAssignmentService(svcOpts)
	return e
}

func (e *env) createUser(t *testing.T, name string, role user.Role) user.User {
	t.Helper()
	uname := strings.ToLower(name)
	usr, err := e.db.CreateUser(context.Background(), user.User{
		Name:     name,
		Username: uname,
		Email:    uname + "@example.com",
		Role:     role,
		IsActive: true,
	})
	require.NoError(t, err)
	return usr
}

func (e *env) createClass(t *testing.T, teacher user.User, name string) classroom.Class {
	t.Helper()
	cls, err := e.classes.CreateClass(context.Background(), teacher, classroom.NewClass{Name: name})
	require.NoError(t, err)
	return cls
}

func (e *env) join(t *testing.T, student user.User, cls classroom.Class) {
	t.Helper()
	_, err := e.classes.JoinClass(context.Background(), student, classroom.JoinClass{Code: cls.Code})
	require.NoError(t, err)
}

func (e *env) createAssignment(t *testing.T, teacher user.User, cls classroom.Class, title string, due *time.Time) classroom.Assignment {
	t.Helper()
	a, err := e.assignments.CreateAssignment(context.Background(), teacher, classroom.NewAssignment{
		ClassID: cls.ID,
		Title:   title,
		DueAt:   due,
	})
	require.NoError(t, err)
	return a
}

func upload(name, content string) core.Upload {
	return core.Upload{Name: name, Size: int64(len(content)), Content: strings.NewReader(content)}
}

func timePtr(t time.Time) *time.Time { return &t }
func boolPtr(b bool) *bool           { return &b }
func intPtr(i int) *int              { return &i }

func titles(views []classroom.AssignmentView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.Title)
	}
	return out
}
