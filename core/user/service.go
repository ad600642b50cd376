package user

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

var (
	// errors
	ErrNotFound           = core.NewError(core.KindNotFound, "user not found")
	ErrEmailExists        = core.NewError(core.KindConflict, "a user with this email already exists")
	ErrUsernameExists     = core.NewError(core.KindConflict, "a user with this username already exists")
	ErrInvalidCredentials = core.NewError(core.KindInvalidCredentials, "invalid credentials")
	ErrInvalidRole        = core.NewValidationError(errors.New("invalid role"), core.FieldError{Field: "role", Error: "invalid role"})
)

type (
	Repository interface {
		// CheckUsernameUniqueness returns ErrUsernameExists or ErrEmailExists if any user but excludedUsers holds them.
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id int) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		// UpdateUser saves name, email, password hash, is_active & last_login.
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	Service struct {
		repo  Repository
		clock core.Clock
	}
)

func NewService(repo Repository, clock core.Clock) *Service {
	if clock == nil {
		clock = core.SystemClock
	}
	return &Service{repo: repo, clock: clock}
}

func (svc *Service) checkUniqueness(uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(context.Background(), uname, email, exclUsers...); err != nil {
		var field string
		switch {
		case errors.Is(err, ErrUsernameExists):
			field = "username"
		case errors.Is(err, ErrEmailExists):
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// Register creates an active user with the given role. nu must have been validated.
func (svc *Service) Register(ctx context.Context, nu NewUser, role Role) (User, error) {
	if !role.Valid() {
		return User{}, ErrInvalidRole
	}
	now := svc.clock()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

// Authenticate checks credentials and records the login.
// Unknown users, wrong passwords and inactive accounts are all ErrInvalidCredentials.
func (svc *Service) Authenticate(ctx context.Context, uname, pwd string) (User, error) {
	usr, err := svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil || !usr.IsActive {
		return User{}, ErrInvalidCredentials
	}

	now := svc.clock()
	usr.LastLogin = &now
	if usr, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return User{}, errors.Wrap(err, "setting last login")
	}
	return usr, nil
}

func (svc *Service) GetByID(ctx context.Context, id int) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

// SetPassword replaces usr's password. sp must have been validated.
func (svc *Service) SetPassword(ctx context.Context, usr User, sp SetPassword) (User, error) {
	if err := usr.SetPassword(sp.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = svc.clock()
	return svc.repo.UpdateUser(ctx, usr)
}
