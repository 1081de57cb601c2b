// Package validate checks decoded request bodies with go-playground/validator
// and reports failures keyed by JSON field name.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/samber/lo"

	"github.com/lalithlochan/canteen/internal/targeting"
	"github.com/lalithlochan/canteen/internal/templates"
)

// ErrTranslatorNotFound indicates the English translator is unavailable.
var ErrTranslatorNotFound = errors.New("translator not found")

// FieldErrors maps a JSON field name to a human readable message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "validation error"
	}
	b, err := json.Marshal(fe)
	if err != nil {
		return fmt.Sprintf("validation error (failed to marshal: %v)", err)
	}
	return string(b)
}

// Validator validates request structs.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New builds a Validator with English messages and the canteen-specific tags
// "priority" and "target_type".
func New() (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	trans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, ErrTranslatorNotFound
	}
	if err := enTranslations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, err
	}

	if err := register(v, trans, "priority", "{0} must be normal or high", func(fl validator.FieldLevel) bool {
		return templates.Priority(fl.Field().String()).Valid()
	}); err != nil {
		return nil, err
	}

	if err := register(v, trans, "target_type", "{0} is not a supported target type", func(fl validator.FieldLevel) bool {
		return lo.Contains(targeting.Types, targeting.TargetType(fl.Field().String()))
	}); err != nil {
		return nil, err
	}

	return &Validator{validate: v, translator: trans}, nil
}

func register(v *validator.Validate, trans ut.Translator, tag, msg string, fn validator.Func) error {
	if err := v.RegisterValidation(tag, fn); err != nil {
		return err
	}
	return v.RegisterTranslation(tag, trans,
		func(t ut.Translator) error {
			return t.Add(tag, msg, false)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			s, err := t.T(fe.Tag(), fe.Field())
			if err != nil {
				return fe.Error()
			}
			return s
		},
	)
}

// Struct validates data, returning FieldErrors on rule failures.
func (v *Validator) Struct(data any) error {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		out[fieldPath(fe)] = fe.Translate(v.translator)
	}
	return out
}

// fieldPath drops the top-level struct name from the namespace so nested
// fields read as "keys.p256dh".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
