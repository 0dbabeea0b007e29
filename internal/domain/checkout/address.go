package checkout

import (
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

// Address is the shipping address collected before payment.
type Address struct {
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Phone  string `json:"phone" validate:"required,number,len=10"`
	Street string `json:"street" validate:"required"`
	City   string `json:"city" validate:"required"`
	Zip    string `json:"zip" validate:"required,number,min=5,max=6"`
}

// Normalize trims surrounding whitespace from every field.
func (a Address) Normalize() Address {
	return Address{
		Name:   strings.TrimSpace(a.Name),
		Email:  strings.TrimSpace(a.Email),
		Phone:  strings.TrimSpace(a.Phone),
		Street: strings.TrimSpace(a.Street),
		City:   strings.TrimSpace(a.City),
		Zip:    strings.TrimSpace(a.Zip),
	}
}

var fieldMessages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"number":   "must contain digits only",
	"len":      "must be exactly %s digits",
	"min":      "must be at least %s digits",
	"max":      "must be at most %s digits",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validateAddress returns a *ValidationError listing every invalid field.
func validateAddress(v *validator.Validate, a Address) error {
	err := v.Struct(a)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate address")
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, seen := fields[fe.Field()]; seen {
			continue
		}
		msg, ok := fieldMessages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		if strings.Contains(msg, "%s") {
			msg = strings.Replace(msg, "%s", fe.Param(), 1)
		}
		fields[fe.Field()] = msg
	}
	return &ValidationError{Message: "shipping address is incomplete", Fields: fields}
}
