package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the shared validator; json tag names are reported as field names.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// FieldViolation is a single failed validation rule.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateStruct runs validator tags on v and flattens every failure.
// A nil slice means v is valid.
func ValidateStruct(v any) ([]FieldViolation, error) {
	err := GetValidator().Struct(v)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	violations := make([]FieldViolation, 0, len(verrs))
	for _, ve := range verrs {
		violations = append(violations, FieldViolation{
			Field:   trimNamespace(ve.Namespace()),
			Message: describeTag(ve),
		})
	}
	return violations, nil
}

func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errorResponse
	}
	for _, ve := range verrs {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

// drop the root struct name: "NewConfiguration.location.zoom" -> "location.zoom"
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeTag(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", ve.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", ve.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", ve.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", ve.Param())
	case "dive":
		return "is invalid"
	}
	return fmt.Sprintf("failed %s validation", ve.Tag())
}
