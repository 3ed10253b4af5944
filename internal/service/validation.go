package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"waster/internal/models"
	"waster/internal/repository"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// validateInput runs the struct tags of in and reports the first failure
// as a validation error.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) && len(vErrs) > 0 {
		first := vErrs[0]
		if first.Param() != "" {
			return models.NewValidationError(fmt.Sprintf("%s failed on %s=%s", first.Field(), first.Tag(), first.Param()))
		}
		return models.NewValidationError(fmt.Sprintf("%s failed on %s", first.Field(), first.Tag()))
	}
	return models.NewValidationError(err.Error())
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(p repository.Page) repository.Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
