package upload

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrConversionFailed = errors.New("conversion failed")
	ErrUploadFailed     = errors.New("upload failed")
	ErrCancelled        = errors.New("upload cancelled")
	ErrTooLateToCancel  = errors.New("upload can no longer be cancelled")
	ErrSessionNotFound  = errors.New("upload session not found")
	ErrInvalidStage     = errors.New("invalid stage transition")
)

// StageError is the terminal error of a session. Kind is one of the sentinel
// errors above (nil when Err already carries its own kind, e.g. a quota error).
type StageError struct {
	Stage   Stage
	Attempt int
	Kind    error
	Err     error
}

func (e *StageError) Error() string {
	kind := "error"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	if e.Err == nil {
		return fmt.Sprintf("%s at %s (attempt %d)", kind, e.Stage, e.Attempt)
	}
	return fmt.Sprintf("%s at %s (attempt %d): %v", kind, e.Stage, e.Attempt, e.Err)
}

func (e *StageError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func NewStageError(stage Stage, attempt int, kind, err error) *StageError {
	return &StageError{Stage: stage, Attempt: attempt, Kind: kind, Err: err}
}
