package forms

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldError is the first failed rule of a form, with a message ready to
// show to the user.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,19}$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			if label := f.Tag.Get("label"); label != "" {
				return label
			}
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("accepted", func(fl validator.FieldLevel) bool {
			return fl.Field().Kind() == reflect.Bool && fl.Field().Bool()
		})
		validate = v
	})
	return validate
}

// Validate checks v against its struct tags. A failed rule is returned as
// a *FieldError; any other error means v is not a form struct.
func Validate(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	fe := errs[0]
	return &FieldError{Field: fe.StructNamespace(), Message: message(fe)}
}

func message(fe validator.FieldError) string {
	label := fe.Field()
	if i := strings.IndexByte(label, '['); i > 0 {
		label = label[:i]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s er påkrevd.", label)
	case "email":
		return fmt.Sprintf("%s må være en gyldig e-postadresse.", label)
	case "phone":
		return fmt.Sprintf("%s må være et gyldig telefonnummer.", label)
	case "accepted":
		return "Du må samtykke til at vi behandler personopplysningene dine."
	case "datetime":
		return fmt.Sprintf("%s må være en gyldig dato (ÅÅÅÅ-MM-DD).", label)
	case "oneof":
		return fmt.Sprintf("%s har en ugyldig verdi.", label)
	case "min":
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("%s må være minst %s tegn.", label, fe.Param())
		case reflect.Slice:
			return fmt.Sprintf("%s må ha minst %s valg.", label, fe.Param())
		default:
			return fmt.Sprintf("%s må være minst %s.", label, fe.Param())
		}
	case "max":
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("%s kan ikke være lengre enn %s tegn.", label, fe.Param())
		case reflect.Slice:
			return fmt.Sprintf("%s kan ha maks %s valg.", label, fe.Param())
		default:
			return fmt.Sprintf("%s kan ikke være større enn %s.", label, fe.Param())
		}
	}
	return fmt.Sprintf("%s er ugyldig.", label)
}
