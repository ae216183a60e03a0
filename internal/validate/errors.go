package validate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingText indicates that a request carried no text field at all.
	ErrMissingText = errors.New("Missing required field: text")
	// ErrEmptyText indicates that the text is empty after trimming.
	ErrEmptyText = errors.New("Text cannot be empty")
	// ErrUnsupportedLanguage indicates a language id outside the supported set.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrOutOfRange indicates a numeric parameter outside its inclusive range.
	ErrOutOfRange = errors.New("parameter out of range")
)

// UnsupportedLanguageError names the rejected language and the valid set.
type UnsupportedLanguageError struct {
	Language  string
	Supported []string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("Unsupported language: %s. Supported languages: [%s]",
		e.Language, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedLanguageError) Unwrap() error {
	return ErrUnsupportedLanguage
}

// OutOfRangeError names the field, the rejected value and its inclusive bounds.
type OutOfRangeError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s must be between %g and %g, got %g", e.Field, e.Min, e.Max, e.Value)
}

func (e *OutOfRangeError) Unwrap() error {
	return ErrOutOfRange
}
