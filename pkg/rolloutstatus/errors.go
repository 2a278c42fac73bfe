// Package rolloutstatus defines the closed set of error kinds that flow
// between the agent's components, and the two control-signal kinds used to
// short-circuit step execution without treating them as failures.
package rolloutstatus

import (
	"errors"
	"fmt"
)

// Kind classifies a RolloutError. It is a closed set: every primitive and
// component surfaces one of these, never an ad-hoc error type.
type Kind string

const (
	// KindHTTP is a transport failure or non-2xx response.
	KindHTTP Kind = "http"

	// KindLocalFile is a filesystem I/O failure (open/write/rename).
	KindLocalFile Kind = "local_file"

	// KindConfig is a schema/shape violation detected at step load or
	// during configuration evaluation.
	KindConfig Kind = "config"

	// KindConfigValidation is produced by the config validator and
	// accumulated in --validate mode.
	KindConfigValidation Kind = "config_validation"

	// KindValidationComplete is a control signal: it short-circuits a
	// step's non-validation body under --validate. Not a failure.
	KindValidationComplete Kind = "validation_complete"

	// KindStepHelp is a control signal that triggers rendering of a
	// step's documentation instead of execution. Not a failure.
	KindStepHelp Kind = "step_help"

	// KindSafeMode means a step explicitly rejected the current
	// safe-mode state.
	KindSafeMode Kind = "safe_mode"
)

// controlSignals short-circuit execution but are never counted as errors
// or printed with a WARNING/FATAL banner.
var controlSignals = map[Kind]bool{
	KindValidationComplete: true,
	KindStepHelp:           true,
}

// RolloutError is the single error type every component in this module
// constructs and returns. Kind closes the switch at the driver: every
// caller handling a RolloutError can exhaustively match on Kind.
type RolloutError struct {
	Kind    Kind
	Message string
	Step    string
	Err     error
	Details map[string]any
}

// Error implements the error interface.
func (e *RolloutError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (step=%s)%s", e.Kind, e.Message, e.Step, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Kind, e.Message, e.unwrapSuffix())
}

func (e *RolloutError) unwrapSuffix() string {
	if e.Err == nil {
		return ""
	}
	return ": " + e.Err.Error()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RolloutError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is, comparing by Kind.
func (e *RolloutError) Is(target error) bool {
	t, ok := target.(*RolloutError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithStep records the step name under which this error occurred. Steps
// should only ever print their name lazily, once, as the driver relies on
// this field for that.
func (e *RolloutError) WithStep(step string) *RolloutError {
	e.Step = step
	return e
}

// WithDetail attaches additional diagnostic context.
func (e *RolloutError) WithDetail(key string, value any) *RolloutError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// IsControlSignal reports whether err is a non-failure control signal
// (ValidationComplete or StepHelp) rather than a real error.
func IsControlSignal(err error) bool {
	var e *RolloutError
	if errors.As(err, &e) {
		return controlSignals[e.Kind]
	}
	return false
}

// IsFatal reports whether err should terminate the whole process rather
// than being counted and the run continued. LocalFileError is the only
// kind treated as fatal when raised from a primitive; callers that need
// driver-level "count and continue" semantics check Kind directly
// instead.
func IsFatal(err error) bool {
	var e *RolloutError
	if errors.As(err, &e) {
		return e.Kind == KindLocalFile
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a RolloutError.
func KindOf(err error) Kind {
	var e *RolloutError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NewHTTPError constructs a transport/non-2xx error.
func NewHTTPError(message string, err error) *RolloutError {
	return &RolloutError{Kind: KindHTTP, Message: message, Err: err}
}

// NewLocalFileError constructs a filesystem I/O error.
func NewLocalFileError(message string, err error) *RolloutError {
	return &RolloutError{Kind: KindLocalFile, Message: message, Err: err}
}

// NewConfigError constructs a configuration shape/schema error.
func NewConfigError(message string, err error) *RolloutError {
	return &RolloutError{Kind: KindConfig, Message: message, Err: err}
}

// NewConfigValidationError constructs a validator-produced error.
func NewConfigValidationError(message string, err error) *RolloutError {
	return &RolloutError{Kind: KindConfigValidation, Message: message, Err: err}
}

// NewSafeModeError constructs a safe-mode rejection error.
func NewSafeModeError(message string) *RolloutError {
	return &RolloutError{Kind: KindSafeMode, Message: message}
}

// NewValidationComplete constructs the ValidationComplete control signal.
func NewValidationComplete(step string) *RolloutError {
	return &RolloutError{Kind: KindValidationComplete, Message: "validation complete", Step: step}
}

// NewStepHelp constructs the StepHelp control signal.
func NewStepHelp(step string) *RolloutError {
	return &RolloutError{Kind: KindStepHelp, Message: "step help requested", Step: step}
}
