package sim

import "fmt"

// ErrorKind classifies simulation failures. The kinds map onto the
// runner's exit codes: configuration errors abort before any iteration,
// invariant and determinism violations fail the run, and coverage
// shortfalls are reported distinctly.
type ErrorKind int

const (
	ErrKindConfig ErrorKind = iota
	ErrKindInvariant
	ErrKindDeterminism
	ErrKindCoverage
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindConfig:
		return "config"
	case ErrKindInvariant:
		return "invariant"
	case ErrKindDeterminism:
		return "determinism"
	case ErrKindCoverage:
		return "coverage"
	default:
		return "unknown"
	}
}

// SimError is the error type for simulation failures.
type SimError struct {
	Kind    ErrorKind
	Message string
}

func (e SimError) Error() string {
	return fmt.Sprintf("simulation error (%s): %s", e.Kind, e.Message)
}

// ErrInvalidConfig creates a configuration error. Configuration errors
// are surfaced at startup, before any iteration runs.
func ErrInvalidConfig(format string, args ...interface{}) error {
	return SimError{Kind: ErrKindConfig, Message: fmt.Sprintf(format, args...)}
}

// ErrDeterminism creates a determinism-violation error, the most severe
// failure class: it means the simulator's own reproducibility guarantee
// is broken.
func ErrDeterminism(format string, args ...interface{}) error {
	return SimError{Kind: ErrKindDeterminism, Message: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	se, ok := err.(SimError)
	return ok && se.Kind == ErrKindConfig
}
