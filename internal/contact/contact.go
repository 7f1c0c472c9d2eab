// Package contact validates submissions of the page's contact form.
package contact

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[\+]?[0-9\s\-\(\)]{10,}$`)
)

// Field messages, as shown next to the form inputs.
const (
	MsgTooShort = "Please enter at least 2 characters"
	MsgEmail    = "Please enter a valid email address"
	MsgPhone    = "Please enter a valid phone number"
)

// Submission is one contact form post.
type Submission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message"`
}

// FieldError is a rejected field and the message for it.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return fmt.Sprintf("contact: invalid fields: %s", strings.Join(names, ", "))
}

// Trimmed returns s with surrounding whitespace removed from every field.
func (s Submission) Trimmed() Submission {
	return Submission{
		Name:    strings.TrimSpace(s.Name),
		Email:   strings.TrimSpace(s.Email),
		Phone:   strings.TrimSpace(s.Phone),
		Message: strings.TrimSpace(s.Message),
	}
}

// Validate checks a trimmed copy of s. It returns a *ValidationError or nil.
// Phone is optional; when present it must look like a phone number.
func Validate(s Submission) error {
	s = s.Trimmed()
	var fields []FieldError

	if utf8.RuneCountInString(s.Name) < 2 {
		fields = append(fields, FieldError{Field: "name", Message: MsgTooShort})
	}
	if !emailPattern.MatchString(s.Email) {
		fields = append(fields, FieldError{Field: "email", Message: MsgEmail})
	}
	if s.Phone != "" && !phonePattern.MatchString(s.Phone) {
		fields = append(fields, FieldError{Field: "phone", Message: MsgPhone})
	}
	if utf8.RuneCountInString(s.Message) < 2 {
		fields = append(fields, FieldError{Field: "message", Message: MsgTooShort})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
