package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

// createUser validates nu against the password policy and registers an active user.
func (cli *commandLine) createUser(ctx context.Context, nu user.NewUser, role user.Role) (user.User, error) {
	if nu.Name == "" {
		nu.Name = nu.Username
	}
	if err := core.TranslateValidationErrors(nu.Validate(cli.validate, cli.usrSvc), cli.translator); err != nil {
		return user.User{}, err
	}
	usr, err := cli.usrSvc.Register(ctx, nu, role)
	if err != nil {
		return user.User{}, errors.Wrap(err, "registering user")
	}
	return usr, nil
}
