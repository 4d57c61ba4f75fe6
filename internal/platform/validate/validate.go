// Package validate wires go-playground/validator into echo with the tags the
// scheduling API needs.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/teleclinic/teleclinic/internal/platform/timeslot"
)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterValidation("hhmm", validateClock)
	v.RegisterValidation("weekday", validateWeekday)
	return &Validator{v: v}
}

// validateClock accepts "HH:MM" 24-hour wall-clock strings.
func validateClock(fl validator.FieldLevel) bool {
	_, err := timeslot.ParseClock(fl.Field().String())
	return err == nil
}

// validateWeekday accepts 0 (Sunday) through 6 (Saturday).
func validateWeekday(fl validator.FieldLevel) bool {
	d := fl.Field().Int()
	return d >= int64(time.Sunday) && d <= int64(time.Saturday)
}

// Validate returns nil or an error listing every failed field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "hhmm":
		return fmt.Sprintf("%s must be a HH:MM time", fe.Field())
	case "weekday":
		return fmt.Sprintf("%s must be between 0 (Sunday) and 6 (Saturday)", fe.Field())
	case "gtfield", "gtefield":
		return fmt.Sprintf("%s must be after %s", fe.Field(), strings.ToLower(fe.Param()))
	case "min", "gt", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lt", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
