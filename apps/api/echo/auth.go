package echoapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
)

const (
	contextUserKey  = "user"
	contextTokenKey = "userToken"
)

func bearerToken(ctx echo.Context) (string, error) {
	auth := ctx.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", errMissingToken
	}
	return strings.TrimSpace(auth[len(prefix):]), nil
}

// authMiddleware validates the bearer token and loads its user into the context.
func authMiddleware(sessions *session.Manager, users *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token, err := bearerToken(ctx)
			if err != nil {
				return err
			}
			claims, err := sessions.Validate(token)
			if err != nil {
				return err
			}

			usr, err := users.GetByID(ctx.Request().Context(), claims.UserID())
			if err != nil {
				if errors.Is(err, user.ErrNotFound) {
					return session.ErrTokenInvalid
				}
				return errors.Wrap(err, "finding user by ID")
			}
			if !usr.IsActive {
				return errAccountDeactivated
			}
			ctx.Set(contextTokenKey, token)
			ctx.Set(contextUserKey, usr)
			return next(ctx)
		}
	}
}

// roleMiddleware only lets users of the given role through.
func roleMiddleware(role user.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := contextUser(ctx)
			if err != nil {
				return err
			}
			if usr.Role != role {
				return errForbidden
			}
			return next(ctx)
		}
	}
}

func contextUser(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	return user.User{}, errMissingToken
}

type authApi struct {
	opts Options
}

func registerAuthAPI(g *echo.Group, auth echo.MiddlewareFunc, opts Options) {
	api := authApi{opts: opts}

	ag := g.Group("/auth")
	ag.POST("/register/:role", api.register)
	ag.POST("/login", api.login)
	// an expired token can still be inspected
	ag.GET("/token-status", api.tokenStatus)

	ag.POST("/refresh", api.refresh, auth)
	ag.GET("/me", api.me, auth)
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	TokenResponse struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}

	LoginResponse struct {
		TokenResponse
		User user.User `json:"user"`
	}
)

func (lr *LoginRequest) Validate(api authApi) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return core.TranslateValidationErrors(api.opts.Validate.Struct(lr), api.opts.Translator)
}

func (api authApi) tokenResponse(token string) (TokenResponse, error) {
	status, err := api.opts.Sessions.Status(token)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{Token: token, ExpiresAt: status.ExpiresAt}, nil
}

func (api authApi) register(ctx echo.Context) error {
	role, ok := user.ParseRole(ctx.Param("role"))
	if !ok {
		return errHttpNotFound
	}

	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(api.opts.Validate, api.opts.UserSvc); err != nil {
		return core.TranslateValidationErrors(err, api.opts.Translator)
	}

	usr, err := api.opts.UserSvc.Register(ctx.Request().Context(), data, role)
	if err != nil {
		return errors.Wrap(err, "registering user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api); err != nil {
		return err
	}

	usr, err := api.opts.UserSvc.Authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := api.opts.Sessions.Issue(usr)
	if err != nil {
		return errors.Wrap(err, "issuing token")
	}
	res, err := api.tokenResponse(token)
	if err != nil {
		return errors.Wrap(err, "reading token status")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{TokenResponse: res, User: usr})
}

func (api authApi) refresh(ctx echo.Context) error {
	token, _ := ctx.Get(contextTokenKey).(string)
	newToken, err := api.opts.Sessions.Refresh(token)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	res, err := api.tokenResponse(newToken)
	if err != nil {
		return errors.Wrap(err, "reading token status")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api authApi) tokenStatus(ctx echo.Context) error {
	token, err := bearerToken(ctx)
	if err != nil {
		return err
	}
	status, err := api.opts.Sessions.Status(token)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, status)
}

func (api authApi) me(ctx echo.Context) error {
	usr, err := contextUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}
