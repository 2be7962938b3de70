package laraplate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// permission_name checks the module.model.action convention.
	_ = v.RegisterValidation("permission_name", func(fl validator.FieldLevel) bool {
		return ValidatePermissionName(fl.Field().String()) == nil
	})
	return v
}

// validateStruct runs struct tag validation and folds the failures into one *Error
// wrapping kind.
func validateStruct(s any, kind error) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewError(kind, err.Error()).WithCause(err)
	}

	msgs := make([]string, 0, len(verrs))
	field := ""
	for _, fe := range verrs {
		if field == "" {
			field = fe.Field()
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return NewError(kind, strings.Join(msgs, "; ")).WithField(field).WithCause(err)
}
