package classroom

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/batch"
	"github.com/trezcool/darasa/core/cache"
	"github.com/trezcool/darasa/core/user"
)

// every partition the classroom services read from, except users
var classroomPartitions = []string{
	cache.ClassesByTeacher,
	cache.ClassesByStudent,
	cache.ClassNames,
	cache.AssignmentList,
	cache.SubmittedIDs,
}

type (
	// UserLookup finds users by username or email.
	UserLookup interface {
		GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error)
	}

	// Options holds the collaborators shared by ClassService and AssignmentService.
	// Cache, Files, Email and Clock are optional. Loader defaults to one over Repo & Cache when
	// Repo also implements batch.Repository.
	Options struct {
		Repo        Repository
		Users       UserLookup
		Loader      *batch.Loader
		Cache       *cache.Manager
		Files       core.FileStore
		MaxFileSize int64
		Email       core.EmailService
		Logger      core.Logger
		Clock       core.Clock
	}

	base struct {
		repo        Repository
		users       UserLookup
		policy      Policy
		loader      *batch.Loader
		cache       *cache.Manager
		files       core.FileStore
		maxFileSize int64
		email       core.EmailService
		log         core.Logger
		clock       core.Clock
	}
)

func newBase(opts Options) base {
	b := base{
		repo:        opts.Repo,
		users:       opts.Users,
		policy:      NewPolicy(opts.Repo),
		loader:      opts.Loader,
		cache:       opts.Cache,
		files:       opts.Files,
		maxFileSize: opts.MaxFileSize,
		email:       opts.Email,
		log:         opts.Logger,
		clock:       opts.Clock,
	}
	if b.loader == nil {
		if repo, ok := opts.Repo.(batch.Repository); ok {
			b.loader = batch.NewLoader(repo, opts.Cache)
		}
	}
	if b.clock == nil {
		b.clock = core.SystemClock
	}
	return b
}

// loaderFor returns the loader to use for a read; fresh reads skip the cache.
func (b *base) loaderFor(fresh bool) *batch.Loader {
	if fresh {
		return b.loader.NoCache()
	}
	return b.loader
}

// cached looks key up. On a miss, the returned generation must be handed to store.
func (b *base) cached(part, key string, fresh bool) (interface{}, uint64, bool) {
	if b.cache == nil {
		return nil, 0, false
	}
	gen := b.cache.Generation(part)
	if fresh {
		return nil, gen, false
	}
	v, ok := b.cache.Get(part, key)
	return v, gen, ok
}

// store fills the cache unless part was invalidated after gen was read.
func (b *base) store(part, key string, gen uint64, value interface{}) {
	if b.cache != nil {
		b.cache.PutIfGeneration(part, key, value, 0, gen)
	}
}

// invalidate clears whole partitions after a committed write. Failures are logged, never returned.
func (b *base) invalidate(parts ...string) {
	if b.cache == nil {
		return
	}
	for _, part := range parts {
		if err := b.cache.InvalidateAll(part); err != nil {
			b.log.Error("invalidating cache partition", err, map[string]interface{}{"partition": part})
		}
	}
}

// readWithRetry runs read once through the cache and, if the store was unavailable, once more bypassing it.
func readWithRetry[T any](read func(fresh bool) (T, error)) (T, error) {
	v, err := read(false)
	if errors.Is(err, core.ErrUnavailable) {
		return read(true)
	}
	return v, err
}

// saveFile checks and stores an upload under dir/yyyy/MM/dd/<uuid><ext>.
func (b *base) saveFile(ctx context.Context, dir string, up core.Upload) (string, error) {
	if err := core.CheckUpload(up, b.maxFileSize); err != nil {
		return "", err
	}
	if b.files == nil {
		return "", core.Unavailable(errors.New("no file store configured"), "saving file")
	}
	name := path.Join(dir, b.clock().Format("2006/01/02"), uuid.NewString()+core.FileExt(up.Name))
	ref, err := b.files.Save(ctx, name, up.Content)
	if err != nil {
		return "", errors.Wrap(err, "saving file")
	}
	return ref, nil
}

func (b *base) openFile(ctx context.Context, ref string) (io.ReadCloser, error) {
	if ref == "" || b.files == nil {
		return nil, ErrFileNotFound
	}
	return b.files.Open(ctx, ref)
}

// deleteFiles removes stored files in the background. Failures are logged.
func (b *base) deleteFiles(refs ...string) {
	if b.files == nil {
		return
	}
	var pending []string
	for _, ref := range refs {
		if ref != "" {
			pending = append(pending, ref)
		}
	}
	if len(pending) == 0 {
		return
	}
	go func() {
		for _, ref := range pending {
			if err := b.files.Delete(context.Background(), ref); err != nil {
				b.log.Warn("deleting file", err, map[string]interface{}{"ref": ref})
			}
		}
	}()
}

// downloadName builds a client-facing file name from parts, keeping ext from origName.
func downloadName(origName string, parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		cleaned = append(cleaned, core.CleanFileName(p))
	}
	return strings.Join(cleaned, "-") + core.FileExt(origName)
}

func displayName(usr user.User) string {
	if usr.Name != "" {
		return usr.Name
	}
	return usr.Username
}

func (b *base) getAssignment(ctx context.Context, id int) (Assignment, error) {
	a, err := b.repo.GetAssignmentByID(ctx, id)
	if err != nil {
		return Assignment{}, errors.Wrap(err, "getting assignment")
	}
	return a, nil
}

// getOwnedAssignment returns the assignment if usr owns it, ErrForbidden otherwise.
func (b *base) getOwnedAssignment(ctx context.Context, usr user.User, id int) (Assignment, error) {
	a, err := b.getAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if !IsAssignmentOwner(usr, a) {
		return Assignment{}, ErrForbidden
	}
	return a, nil
}

// getOwnedClass returns the class if usr owns it, ErrForbidden otherwise.
func (b *base) getOwnedClass(ctx context.Context, usr user.User, id int) (Class, error) {
	cls, err := b.repo.GetClassByID(ctx, id)
	if err != nil {
		return Class{}, errors.Wrap(err, "getting class")
	}
	if !IsClassOwner(usr, cls) {
		return Class{}, ErrForbidden
	}
	return cls, nil
}
