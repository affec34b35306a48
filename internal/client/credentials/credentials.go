package credentials

import (
	"errors"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Form field names shared by the login form, the validation fragment and the upstream payload.
const (
	FieldEmail    = "email"
	FieldPassword = "password"
)

// MinPasswordLength is the shortest password the login form accepts.
const MinPasswordLength = 6

// Rule identifies which validation rule a field failed.
type Rule string

const (
	RuleRequired Rule = "required"
	RuleEmail    Rule = "email"
	RuleMin      Rule = "min"
)

// Credentials is the email/password pair collected by the login form.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6"`
}

// Errors maps a form field name to the first rule it failed. An empty map means valid.
type Errors map[string]Rule

// Has reports whether field failed validation.
func (e Errors) Has(field string) bool {
	_, ok := e[field]
	return ok
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FromForm builds Credentials from submitted form values. The email is trimmed, so padding
// around an otherwise valid address is accepted and a blank one reports RuleRequired rather
// than RuleEmail. The password is taken verbatim.
func FromForm(values url.Values) Credentials {
	return Credentials{
		Email:    strings.TrimSpace(values.Get(FieldEmail)),
		Password: values.Get(FieldPassword),
	}
}

// Validate checks both fields independently and returns the first failing rule per field. For
// the email, required is checked before the address format.
func (c Credentials) Validate() Errors {
	err := validate.Struct(c)
	if err == nil {
		return Errors{}
	}

	out := Errors{}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		// Only reachable on programmer error (e.g. a non-struct); treat both fields as invalid.
		out[FieldEmail] = RuleRequired
		out[FieldPassword] = RuleMin
		return out
	}
	for _, fe := range fieldErrs {
		field := fe.Field()
		if out.Has(field) {
			continue
		}
		out[field] = Rule(fe.Tag())
	}
	return out
}

// Valid reports whether both fields satisfy their rules.
func (c Credentials) Valid() bool {
	return len(c.Validate()) == 0
}
