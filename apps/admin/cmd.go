package main

import (
	"database/sql"
	"fmt"
	"io"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword       // mockable
	migrateFunc      = database.RunMigrations // mockable

	errEmptyPassword = errors.New("password cannot be empty")
)

type commandLine struct {
	db         *sql.DB
	usrSvc     *user.Service
	validate   *validator.Validate
	translator ut.Translator
	out        io.Writer
}

func (cli *commandLine) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Darasa administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(cli.out)
	cmd.SetErr(cli.out)

	cmd.AddCommand(cli.newMigrateCommand())
	cmd.AddCommand(cli.newCreateUserCommand())
	cmd.AddCommand(cli.newResetPasswordCommand())
	return cmd
}

func (cli *commandLine) newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a migration command: up, up-by-one, up-to, down, down-to, redo, reset, status, version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.migrate(cmd.Context(), args)
		},
	}
}

func (cli *commandLine) newCreateUserCommand() *cobra.Command {
	var name, uname, email, role string

	cmd := &cobra.Command{
		Use:   "createuser",
		Short: "Create an active user. The password is prompted next.",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ok := user.ParseRole(role)
			if !ok {
				return errors.Errorf("unknown role %q", role)
			}
			pwd, err := cli.promptPassword("Enter password:")
			if err != nil {
				return err
			}
			confirm, err := cli.promptPassword("Confirm password:")
			if err != nil {
				return err
			}
			usr, err := cli.createUser(cmd.Context(), user.NewUser{
				Name:            name,
				Username:        uname,
				Email:           email,
				Password:        pwd,
				PasswordConfirm: confirm,
			}, r)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cli.out, "created %s %q (id %d)\n", usr.Role, usr.Username, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "The user's display name")
	cmd.Flags().StringVar(&uname, "username", "", "The user's username")
	cmd.Flags().StringVar(&email, "email", "", "The user's email")
	cmd.Flags().StringVar(&role, "role", user.RoleTeacher.String(), "teacher or student")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (cli *commandLine) newResetPasswordCommand() *cobra.Command {
	var uname string

	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password. The password is prompted next.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword("Enter password:")
			if err != nil {
				return err
			}
			confirm, err := cli.promptPassword("Confirm password:")
			if err != nil {
				return err
			}
			return cli.resetPassword(cmd.Context(), uname, user.SetPassword{Password: pwd, PasswordConfirm: confirm})
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "The user's username or email")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func (cli *commandLine) promptPassword(prompt string) (string, error) {
	_, _ = fmt.Fprint(cli.out, prompt)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	_, _ = fmt.Fprintln(cli.out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}

// describe flattens validation errors into "field: message" lines.
func describe(err error) string {
	var verr *core.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) == 0 {
		return err.Error()
	}
	lines := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		lines = append(lines, fmt.Sprintf("  %s: %s", f.Field, f.Error))
	}
	return "invalid input:\n" + strings.Join(lines, "\n")
}
