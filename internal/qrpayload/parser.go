// Package qrpayload parses the text encoded on student ID QR codes.
//
// The format is whitespace separated: NAME... STUDENTID DEPARTMENT, for
// example "NHEM DAY G. ACLO 2023300076 BSIT". The last token is the
// department, the one before it the student id, and everything before
// that the full name.
package qrpayload

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrMalformed means the payload does not have the NAME ID DEPT shape.
	ErrMalformed = errors.New("malformed qr payload")
	// ErrInvalidField means the shape is right but a field is out of bounds.
	ErrInvalidField = errors.New("invalid qr payload field")
)

var studentIDPattern = regexp.MustCompile(`^[0-9]{10,11}$`)

// Payload is one decoded scan.
type Payload struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	StudentID  string `json:"student_id" validate:"studentid"`
	Department string `json:"department" validate:"min=2,max=50"`
}

// String renders the canonical QR text for the payload.
func (p Payload) String() string {
	return p.FullName + " " + p.StudentID + " " + p.Department
}

// FieldError describes the first field that failed validation.
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %q %s", e.Field, e.Value, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidField }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("studentid", func(fl validator.FieldLevel) bool {
		return studentIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// Parse decodes raw scanner output. It never panics; any problem is
// reported as an error wrapping ErrMalformed or ErrInvalidField.
func Parse(raw string) (Payload, error) {
	parts := strings.Fields(raw)
	if len(parts) < 3 {
		if len(parts) == 0 {
			return Payload{}, fmt.Errorf("%w: empty payload", ErrMalformed)
		}
		return Payload{}, fmt.Errorf("%w: requires name, student id and department", ErrMalformed)
	}

	p := Payload{
		FullName:   strings.TrimSpace(strings.Join(parts[:len(parts)-2], " ")),
		StudentID:  parts[len(parts)-2],
		Department: parts[len(parts)-1],
	}
	if err := Validate(p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Validate checks field bounds on an already split payload.
func Validate(p Payload) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	fe := verrs[0]
	return &FieldError{
		Field:  fe.Field(),
		Value:  fmt.Sprint(fe.Value()),
		Reason: reason(fe),
	}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "studentid":
		return "must be 10-11 digits"
	case "required":
		return "cannot be empty"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag()
}
