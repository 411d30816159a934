package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

var validate = newValidator()

// newValidator reports fields by the name the client sent: the query, path
// or JSON tag, in that order.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "param", "json"} {
			name := strings.Split(f.Tag.Get(tag), ",")[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ReadAndValidateRequest binds path, query and body into req, fills defaults
// and validates it. It returns nil when req is usable.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return []ValidationError{bindError(err)}
	}
	if err := defaults.Set(req); err != nil {
		return []ValidationError{{Code: "ERR_DEFAULTS", Message: err.Error()}}
	}
	err := validate.StructCtx(c.Request().Context(), req)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(fields))
	for _, fe := range fields {
		out = append(out, ValidationError{
			Code:    "ERR_" + strings.ToUpper(fe.Tag()),
			Field:   fe.Field(),
			Message: describe(fe),
		})
	}
	return out
}

func bindError(err error) ValidationError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return ValidationError{Code: "ERR_BIND", Message: fmt.Sprint(he.Message)}
	}
	return ValidationError{Code: "ERR_BIND", Message: err.Error()}
}

func describe(fe validator.FieldError) string {
	f, p := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", f, strings.ReplaceAll(p, " ", ", "))
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", f, p)
		}
		return fmt.Sprintf("%s must be at most %s", f, p)
	case "gte":
		return fmt.Sprintf("%s must be %s or more", f, p)
	case "lte":
		return fmt.Sprintf("%s must be %s or less", f, p)
	case "datetime":
		return fmt.Sprintf("%s must match %s", f, p)
	default:
		return fmt.Sprintf("%s failed %s", f, fe.Tag())
	}
}
