package main

import (
	"context"
	"log"
	"os"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/storage/database"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Printf("error: %v", err)
		return 1
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Printf("error: %v", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)

	// start CLI
	cli := &commandLine{
		db:         db.DB,
		usrSvc:     user.NewService(sqlxrepos.NewStore(db), core.SystemClock),
		validate:   validate,
		translator: translator,
		out:        os.Stdout,
	}
	if err = cli.newRootCommand().ExecuteContext(context.Background()); err != nil {
		logger.Printf("\n%s\n", describe(err))
		return 1
	}
	return 0
}
