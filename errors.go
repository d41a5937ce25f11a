package biocore

import (
	stderrors "errors"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeConditionNotMet      = "CONDITION_NOT_MET"
	CodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	CodeHandlerError         = "HANDLER_ERROR"
	CodeHandlerTimeout       = "HANDLER_TIMEOUT"
	CodeUnknownConflict      = "UNKNOWN_CONFLICT"
	CodeVersionConflict      = "VERSION_CONFLICT"
	CodeEntityNotFound       = "ENTITY_NOT_FOUND"
	CodeInvalidMessage       = "INVALID_MESSAGE"
	CodeInvalidConfig        = "INVALID_CONFIG"
)

var (
	ErrInvalidTransition = errors.New("invalid transition", errors.CategoryBadInput).
				WithTextCode(CodeInvalidTransition)
	ErrConditionNotMet = errors.New("condition not met", errors.CategoryBadInput).
				WithTextCode(CodeConditionNotMet)
	// ErrMissingRequiredField is the guard subtype of ErrConditionNotMet raised
	// when a transition needs a field the caller did not provide.
	ErrMissingRequiredField = errors.New("missing required field", errors.CategoryValidation).
				WithTextCode(CodeMissingRequiredField)
	ErrHandlerError = errors.New("handler failed", errors.CategoryHandler).
			WithTextCode(CodeHandlerError)
	ErrHandlerTimeout = errors.New("handler timed out", errors.CategoryHandler).
				WithTextCode(CodeHandlerTimeout)
	ErrUnknownConflict = errors.New("unknown conflict", errors.CategoryBadInput).
				WithTextCode(CodeUnknownConflict)
	ErrVersionConflict = errors.New("version conflict", errors.CategoryConflict).
				WithTextCode(CodeVersionConflict)
	ErrEntityNotFound = errors.New("entity not found", errors.CategoryBadInput).
				WithTextCode(CodeEntityNotFound)
	ErrInvalidMessage = errors.New("invalid message", errors.CategoryValidation).
				WithTextCode(CodeInvalidMessage)
	ErrInvalidConfig = errors.New("invalid configuration", errors.CategoryValidation).
				WithTextCode(CodeInvalidConfig)
)

// NewError clones base and decorates the copy with a message, an optional
// source error and metadata. Sentinels are never mutated.
func NewError(base *errors.Error, message string, source error, metadata map[string]any) *errors.Error {
	if base == nil {
		base = ErrConditionNotMet
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code carried by err, or "" when err is not a
// go-errors error.
func ErrorCode(err error) string {
	var ge *errors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries code. A missing required field is a
// guard failure, so it also matches CodeConditionNotMet.
func HasCode(err error, code string) bool {
	got := ErrorCode(err)
	if got == code {
		return true
	}
	return code == CodeConditionNotMet && got == CodeMissingRequiredField
}

// ErrorMessage returns the human readable message for err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ge *errors.Error
	if stderrors.As(err, &ge) && strings.TrimSpace(ge.Message) != "" {
		return ge.Message
	}
	return err.Error()
}
