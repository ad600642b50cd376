package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

func (cli *commandLine) resetPassword(ctx context.Context, uname string, sp user.SetPassword) error {
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return errors.Wrap(err, "finding user")
	}
	if err = core.TranslateValidationErrors(sp.Validate(cli.validate, usr), cli.translator); err != nil {
		return err
	}
	if _, err = cli.usrSvc.SetPassword(ctx, usr, sp); err != nil {
		return errors.Wrap(err, "setting password")
	}
	return nil
}
