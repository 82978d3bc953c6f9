package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	enumMu sync.RWMutex
	enums  = map[string][]string{}
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report JSON names ("wasteType") rather than Go names ("WasteType")
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		validate.RegisterAlias("date", "datetime=2006-01-02")
		validate.RegisterAlias("clock", "datetime=15:04")
	})
	return validate
}

// RegisterEnum registers tag as a case-insensitive membership check against
// values. Packages call it from init for their own vocabularies.
func RegisterEnum(tag string, values ...string) {
	enumMu.Lock()
	enums[tag] = values
	enumMu.Unlock()
	_ = instance().RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		_, ok := Canonical(tag, fl.Field().String())
		return ok
	})
}

// Canonical returns the registered spelling of v for tag, matching
// case-insensitively.
func Canonical(tag, v string) (string, bool) {
	enumMu.RLock()
	defer enumMu.RUnlock()
	v = strings.TrimSpace(v)
	for _, c := range enums[tag] {
		if strings.EqualFold(c, v) {
			return c, true
		}
	}
	return "", false
}

// Validate checks struct tags on v and returns an *apperr.Validation listing
// every failing field.
func Validate(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Invalid(err.Error())
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, message(fe))
	}
	return apperr.Invalid(details...)
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_with", "required_if":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "datetime":
		return fmt.Sprintf("%s must match the layout %s", field, fe.Param())
	case "date":
		return field + " must be a date in YYYY-MM-DD form"
	case "clock":
		return field + " must be a time in HH:MM form"
	case "latitude":
		return field + " must be a latitude between -90 and 90"
	case "longitude":
		return field + " must be a longitude between -180 and 180"
	case "url", "http_url":
		return field + " must be a valid URL"
	case "gt", "gte":
		return fmt.Sprintf("%s must be at least %s", field, minFor(fe))
	case "lt", "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "ne":
		return fmt.Sprintf("%s must not be %s", field, fe.Param())
	default:
		enumMu.RLock()
		values, ok := enums[fe.Tag()]
		enumMu.RUnlock()
		if ok {
			return fmt.Sprintf("%s must be one of [%s]", field, strings.Join(values, ", "))
		}
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func minFor(fe validator.FieldError) string {
	if fe.Tag() == "gt" {
		return "greater than " + fe.Param()
	}
	return fe.Param()
}
