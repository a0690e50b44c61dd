package users

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationErrors maps a form field to its messages. It is returned for bad input
// and bad credentials alike, and is rendered as a 422 `{errors}` body.
type ValidationErrors map[string][]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(v[f], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a message to field.
func (v ValidationErrors) Add(field, msg string) { v[field] = append(v[field], msg) }

// LoginForm is the credential form accepted by Authenticate.
type LoginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterForm is the sign-up form accepted by Register.
type RegisterForm struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
	Name        string `json:"name" validate:"required,max=100"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names so messages line up with the request body
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func validateForm(v *validator.Validate, form any) error {
	err := v.Struct(form)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := ValidationErrors{}
	for _, fe := range fieldErrs {
		out.Add(fe.Field(), message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Must be a valid email address"
	case "min":
		return fmt.Sprintf("Must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	default:
		return "Invalid value"
	}
}
