package scorer

import (
	"errors"
	"fmt"
)

// ParseError means the LLM's raw text could not be coerced into the stage's
// expected structure: no JSON object found, undecodable JSON, or a required
// field missing or out of domain. Distinct from transport failures; retryable
// within the per-stage budget.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse stage output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StageError attributes a hard failure to one of the four scoring stages.
type StageError struct {
	Stage int // 1..4
	Name  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, e.Name, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err originates from output coercion rather
// than transport.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
