package echoapi

import (
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
)

type validatable interface {
	Validate(validate *validator.Validate) error
}

// validateInput cleans & validates v, translating validator errors into field errors.
func validateInput(opts Options, v validatable) error {
	return core.TranslateValidationErrors(v.Validate(opts.Validate), opts.Translator)
}

// pathID reads a positive integer path param. Anything else is a 404.
func pathID(ctx echo.Context, name string) (int, error) {
	id, err := strconv.Atoi(ctx.Param(name))
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

func invalidParam(name, msg string) error {
	return core.NewValidationError(nil, core.FieldError{Field: name, Error: msg})
}

func optionalInt(value, name string) (*int, error) {
	if value == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return nil, invalidParam(name, "must be an integer")
	}
	return &i, nil
}

func optionalBool(value, name string) (*bool, error) {
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, invalidParam(name, "must be true or false")
	}
	return &b, nil
}

// optionalTime parses RFC 3339 timestamps.
func optionalTime(value, name string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, invalidParam(name, "must be an RFC 3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}

// formFile opens the named multipart file. The returned close func is never nil.
func formFile(ctx echo.Context, name string, required bool) (*core.Upload, func(), error) {
	noop := func() {}
	fh, err := ctx.FormFile(name)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			if required {
				return nil, noop, invalidParam(name, "this field is required")
			}
			return nil, noop, nil
		}
		return nil, noop, errors.Wrap(err, "reading form file")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, noop, errors.Wrap(err, "opening form file")
	}
	return upload(fh, f), func() { _ = f.Close() }, nil
}

func upload(fh *multipart.FileHeader, f multipart.File) *core.Upload {
	return &core.Upload{Name: fh.Filename, Size: fh.Size, Content: f}
}

// sendDownload streams dl as an attachment and closes it.
func sendDownload(ctx echo.Context, dl classroom.Download) error {
	defer func() { _ = dl.Content.Close() }()

	contentType := mime.TypeByExtension(core.FileExt(dl.Name))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	name := strings.ReplaceAll(dl.Name, `"`, "")
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return ctx.Stream(http.StatusOK, contentType, dl.Content)
}
