package service

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// mailbox is deliberately looser than the built-in email tag: one @, no
	// whitespace, a dot somewhere in the domain.
	_ = v.RegisterValidation("mailbox", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	// trimmin=N requires at least N characters once surrounding spaces are removed.
	_ = v.RegisterValidation("trimmin", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		if err != nil {
			n = 1
		}
		return len([]rune(strings.TrimSpace(fl.Field().String()))) >= n
	})
	return v
}

// fieldMessages maps "Struct.Field.tag" to the message shown to the user.
var fieldMessages = map[string]string{
	"RegisterInput.Username.required": "Username is required",
	"RegisterInput.Username.trimmin":  "Username must not be empty",
	"RegisterInput.Email.required":    "Email is required",
	"RegisterInput.Email.mailbox":     "Invalid email",
	"RegisterInput.Password.required": "Password is required",
	"RegisterInput.Password.trimmin":  "Password requires at least 6 characters",

	"ProfileInput.Email.required":  "Email is required",
	"ProfileInput.Email.mailbox":   "Invalid email",
	"ProfileInput.Name.trimmin":    "Name must not be empty",
	"ProfileInput.Country.trimmin": "Country needs at least 2 characters",

	"passwordInput.Password.required": "Password is required",
	"passwordInput.Password.trimmin":  "Password requires at least 6 characters",

	"fileRecord.Name.required":        "File name is required",
	"fileRecord.StorageName.required": "Storage name is required",
	"fileRecord.Size.min":             "File size must not be negative",
	"fileRecord.Author.required":      "Author username is required",
}

// checkStruct runs the validator and converts failures into a single
// ErrValidation carrying one message per field.
func checkStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := fe.StructNamespace() + "." + fe.Tag()
		msg, ok := fieldMessages[key]
		if !ok {
			msg = fe.Field() + " is invalid"
		}
		fields = append(fields, msg)
	}
	return validationError(fields...)
}

type passwordInput struct {
	Password string `validate:"required,trimmin=6"`
}

func checkPassword(password string) error {
	return checkStruct(passwordInput{Password: password})
}
