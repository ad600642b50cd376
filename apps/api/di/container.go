// Package di wires the API dependencies in a dig.Container.
package di

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/batch"
	"github.com/trezcool/darasa/core/cache"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	filesvc "github.com/trezcool/darasa/services/files"
	logsvc "github.com/trezcool/darasa/services/logger"
	"github.com/trezcool/darasa/storage/database"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

const engineMemory = "memory"

type (
	// Repository is implemented by both the in-memory and the PostgreSQL stores.
	Repository interface {
		user.Repository
		classroom.Repository
		batch.Repository
	}

	// Database is the store of record and the func releasing it.
	Database struct {
		Repo  Repository
		Close func() error
	}

	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newClock() core.Clock { return core.SystemClock }

func newDB(conf *core.Config, loggerParam DBLoggerParam) *Database {
	if conf.Database.Engine == engineMemory {
		loggerParam.Logger.Warn("using the in-memory store: data is lost on shutdown")
		return &Database{Repo: inmemdb.New(), Close: func() error { return nil }}
	}

	setUp := func() (*Database, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(context.Background(), db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Database{Repo: sqlxrepos.NewStore(db), Close: db.Close}, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newFileStore(conf *core.Config, reg *prometheus.Registry) (core.FileStore, error) {
	var (
		store core.FileStore
		err   error
	)
	switch conf.Files.Backend {
	case "s3":
		store, err = filesvc.NewS3Store(context.Background(), conf)
	case "local", "":
		store, err = filesvc.NewLocalStore(conf.Files.Root)
	default:
		err = errors.Errorf("unknown files backend %q", conf.Files.Backend)
	}
	if err != nil {
		return nil, errors.Wrap(err, "setting up file store")
	}
	return filesvc.NewPool(store, conf.Files.Workers, reg), nil
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(log.New(os.Stdout, "", 0), logger, conf)
	}
	return emailsvc.NewSendgridService(logger, conf)
}

func newSessionManager(conf *core.Config, clock core.Clock) *session.Manager {
	return session.NewManagerFromConfig(conf, session.NewMemoryLedger(conf.Server.RefreshLedgerSize), clock)
}

func newClassroomOptions(
	conf *core.Config,
	db *Database,
	c *cache.Manager,
	files core.FileStore,
	email core.EmailService,
	logger core.Logger,
	clock core.Clock,
) classroom.Options {
	return classroom.Options{
		Repo:        db.Repo,
		Users:       db.Repo,
		Loader:      batch.NewLoader(db.Repo, c),
		Cache:       c,
		Files:       files,
		MaxFileSize: conf.Files.MaxSize,
		Email:       email,
		Logger:      logger,
		Clock:       clock,
	}
}

func newUserService(db *Database, clock core.Clock) *user.Service {
	return user.NewService(db.Repo, clock)
}

func newCache(conf *core.Config, clock core.Clock, reg *prometheus.Registry) (*cache.Manager, error) {
	return cache.NewFromConfig(conf, clock, reg)
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	sessions *session.Manager,
	usrSvc *user.Service,
	opts classroom.Options,
	validate *validator.Validate,
	translator ut.Translator,
	reg *prometheus.Registry,
) *echoapi.Server {
	return echoapi.NewServer(echoapi.Options{
		Address:        conf.Server.Address,
		AppName:        conf.AppName,
		Debug:          conf.Debug,
		TestMode:       conf.TestMode,
		DisableReqLogs: conf.Server.DisableReqLogs,
		Logger:         logger,
		Sessions:       sessions,
		UserSvc:        usrSvc,
		ClassSvc:       classroom.NewClassService(opts),
		AssignmentSvc:  classroom.NewAssignmentService(opts),
		Validate:       validate,
		Translator:     translator,
		Metrics:        reg,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newClock))
	must(c.Provide(newDB))
	must(c.Provide(newRegistry))
	must(c.Provide(newCache))
	must(c.Provide(newFileStore))
	must(c.Provide(newEmailService))
	must(c.Provide(newSessionManager))
	must(c.Provide(newUserService))
	must(c.Provide(newClassroomOptions))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(core.NewValidator))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
