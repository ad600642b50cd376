package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var (
	errMissingToken       = core.NewError(core.KindTokenInvalid, "missing or malformed token")
	errAccountDeactivated = core.NewError(core.KindForbidden, "account deactivated")
	errForbidden          = core.NewError(core.KindForbidden, "")
	errHttpNotFound       = echo.NewHTTPError(http.StatusNotFound, "not found")
)

var kindStatus = map[core.Kind]int{
	core.KindNotFound:           http.StatusNotFound,
	core.KindForbidden:          http.StatusForbidden,
	core.KindConflict:           http.StatusConflict,
	core.KindDeadlinePassed:     http.StatusUnprocessableEntity,
	core.KindInvalidCredentials: http.StatusUnauthorized,
	core.KindTokenExpired:       http.StatusUnauthorized,
	core.KindTokenInvalid:       http.StatusUnauthorized,
	core.KindRefreshRateLimited: http.StatusTooManyRequests,
	core.KindUnavailable:        http.StatusServiceUnavailable,
}

// kindMessage is the client-facing message of a domain error.
// Not found, forbidden and conflict errors keep their own message, the others only name their kind.
func kindMessage(e *core.Error) string {
	switch e.Kind {
	case core.KindNotFound, core.KindForbidden, core.KindConflict:
		if e.Msg != "" {
			return e.Msg
		}
	}
	return e.Kind.String()
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var (
			code    int
			message interface{}
			domErr  *core.Error
			valErr  *core.ValidationError
			vErrs   validator.ValidationErrors
			httpErr *echo.HTTPError
		)

		switch {
		case errors.As(err, &valErr):
			code = http.StatusBadRequest
			if len(valErr.Fields) > 0 {
				fldErrs := make(map[string]string, len(valErr.Fields))
				for _, fErr := range valErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = valErr.Error()
			}
		case errors.As(err, &vErrs):
			code = http.StatusBadRequest
			fldErrs := make(map[string]string, len(vErrs))
			for _, vErr := range vErrs {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			message = fldErrs
		case errors.As(err, &domErr):
			code = kindStatus[domErr.Kind]
			message = kindMessage(domErr)
			if domErr.Kind == core.KindUnavailable {
				logger.Error(err.Error(), err, contextUserOrZero(ctx))
			}
		case errors.As(err, &httpErr):
			if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = herr
			}
			code = httpErr.Code
			message = httpErr.Message
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg), contextUserOrZero(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}
		if code == 0 {
			code = http.StatusInternalServerError
		}

		if m, ok := message.(string); ok {
			if ctx.Echo().Debug && code >= http.StatusInternalServerError {
				m = err.Error()
			}
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func contextUserOrZero(ctx echo.Context) user.User {
	usr, _ := ctx.Get(contextUserKey).(user.User)
	return usr
}
