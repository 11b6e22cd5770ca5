package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells when an error was raised.
type ErrorClass string

const (
	// ErrorClassContract marks registration and compile-time contract violations.
	// No step has run when one of these is returned.
	ErrorClassContract ErrorClass = "contract"

	// ErrorClassRuntime marks checks the executor performs while a plan runs.
	// Errors returned by step bodies are never wrapped into this class.
	ErrorClassRuntime ErrorClass = "runtime"
)

// Error codes.
const (
	ErrCodeUnknownStep           = "UNKNOWN_STEP"
	ErrCodeUnknownTag            = "UNKNOWN_TAG"
	ErrCodeDuplicateStep         = "DUPLICATE_STEP"
	ErrCodeDuplicateTag          = "DUPLICATE_TAG"
	ErrCodeInvalidTag            = "INVALID_TAG"
	ErrCodeInvalidStep           = "INVALID_STEP"
	ErrCodeConfigValidation      = "CONFIG_VALIDATION"
	ErrCodeUnsatisfiedDependency = "UNSATISFIED_DEPENDENCY"
	ErrCodeCyclicDependency      = "CYCLIC_DEPENDENCY"
	ErrCodeInvalidSettings       = "INVALID_SETTINGS"
	ErrCodeContextMismatch       = "CONTEXT_MISMATCH"
	ErrCodeProvidesUnsatisfied   = "PROVIDES_UNSATISFIED"
)

// EngineError is a contract or runtime error with the step, tag, field path
// or cycle it concerns.
// nolint:revive // EngineError is intentionally named to distinguish from step errors
type EngineError struct {
	Class   ErrorClass     `json:"class"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Step    string         `json:"step,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Path    string         `json:"path,omitempty"`
	Cycle   []string       `json:"cycle,omitempty"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	var ctx []string
	if e.Step != "" {
		ctx = append(ctx, "step="+e.Step)
	}
	if e.Tag != "" {
		ctx = append(ctx, "tag="+e.Tag)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches errors with the same class and code, so the package sentinels
// work with errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithStep sets the step the error concerns.
func (e *EngineError) WithStep(stepID string) *EngineError {
	e.Step = stepID
	return e
}

// WithTag sets the tag the error concerns.
func (e *EngineError) WithTag(tag string) *EngineError {
	e.Tag = tag
	return e
}

// WithPath sets the configuration field path.
func (e *EngineError) WithPath(path string) *EngineError {
	e.Path = path
	return e
}

// WithCycle sets the member steps of a dependency cycle.
func (e *EngineError) WithCycle(members []string) *EngineError {
	e.Cycle = append([]string(nil), members...)
	return e
}

// WithDetail adds a detail field.
func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func contractError(code, message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassContract, Code: code, Message: message, Err: err}
}

func runtimeError(code, message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassRuntime, Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrUnknownStep           = &EngineError{Class: ErrorClassContract, Code: ErrCodeUnknownStep}
	ErrUnknownTag            = &EngineError{Class: ErrorClassContract, Code: ErrCodeUnknownTag}
	ErrDuplicateStep         = &EngineError{Class: ErrorClassContract, Code: ErrCodeDuplicateStep}
	ErrDuplicateTag          = &EngineError{Class: ErrorClassContract, Code: ErrCodeDuplicateTag}
	ErrInvalidTag            = &EngineError{Class: ErrorClassContract, Code: ErrCodeInvalidTag}
	ErrInvalidStep           = &EngineError{Class: ErrorClassContract, Code: ErrCodeInvalidStep}
	ErrConfigValidation      = &EngineError{Class: ErrorClassContract, Code: ErrCodeConfigValidation}
	ErrUnsatisfiedDependency = &EngineError{Class: ErrorClassContract, Code: ErrCodeUnsatisfiedDependency}
	ErrCyclicDependency      = &EngineError{Class: ErrorClassContract, Code: ErrCodeCyclicDependency}
	ErrInvalidSettings       = &EngineError{Class: ErrorClassContract, Code: ErrCodeInvalidSettings}
	ErrContextMismatch       = &EngineError{Class: ErrorClassRuntime, Code: ErrCodeContextMismatch}
	ErrProvidesUnsatisfied   = &EngineError{Class: ErrorClassRuntime, Code: ErrCodeProvidesUnsatisfied}
)

// NewUnknownStepError reports a step id missing from the registry.
func NewUnknownStepError(stepID string) *EngineError {
	return contractError(ErrCodeUnknownStep, fmt.Sprintf("unknown step %q", stepID), nil).
		WithStep(stepID)
}

// NewUnknownTagError reports a tag id missing from the tag registry.
func NewUnknownTagError(tag string) *EngineError {
	return contractError(ErrCodeUnknownTag, fmt.Sprintf("unknown tag %q", tag), nil).
		WithTag(tag)
}

// NewDuplicateStepError reports a step id registered or selected twice.
func NewDuplicateStepError(stepID string) *EngineError {
	return contractError(ErrCodeDuplicateStep, fmt.Sprintf("duplicate step %q", stepID), nil).
		WithStep(stepID)
}

// NewDuplicateTagError reports a tag re-registered with another kind.
func NewDuplicateTagError(tag string, registered, requested TagKind) *EngineError {
	return contractError(ErrCodeDuplicateTag,
		fmt.Sprintf("tag %q already registered as %s, cannot register as %s", tag, registered, requested), nil).
		WithTag(tag).
		WithDetail("registered_kind", string(registered)).
		WithDetail("requested_kind", string(requested))
}

// NewConfigValidationError reports a configuration field that violates the
// step's schema.
func NewConfigValidationError(stepID, path string, err error) *EngineError {
	return contractError(ErrCodeConfigValidation, "invalid step configuration", err).
		WithStep(stepID).
		WithPath(path)
}

// NewUnsatisfiedDependencyError reports a required tag no selected step provides.
func NewUnsatisfiedDependencyError(stepID, tag string) *EngineError {
	return contractError(ErrCodeUnsatisfiedDependency,
		fmt.Sprintf("step %q requires %q but no selected step provides it", stepID, tag), nil).
		WithStep(stepID).
		WithTag(tag)
}

// NewCyclicDependencyError reports a dependency cycle. cycle lists the member
// steps in cycle order.
func NewCyclicDependencyError(cycle []string) *EngineError {
	closed := append(append([]string(nil), cycle...), cycle[0])
	return contractError(ErrCodeCyclicDependency,
		fmt.Sprintf("cyclic dependency: %s", formatCycle(closed)), nil).
		WithCycle(cycle)
}

// IsUnknownStep reports whether err is an unknown step error.
func IsUnknownStep(err error) bool { return hasCode(err, ErrCodeUnknownStep) }

// IsUnknownTag reports whether err is an unknown tag error.
func IsUnknownTag(err error) bool { return hasCode(err, ErrCodeUnknownTag) }

// IsDuplicateStep reports whether err is a duplicate step error.
func IsDuplicateStep(err error) bool { return hasCode(err, ErrCodeDuplicateStep) }

// IsDuplicateTag reports whether err is a duplicate tag error.
func IsDuplicateTag(err error) bool { return hasCode(err, ErrCodeDuplicateTag) }

// IsConfigValidation reports whether err is a configuration validation error.
func IsConfigValidation(err error) bool { return hasCode(err, ErrCodeConfigValidation) }

// IsUnsatisfiedDependency reports whether err is an unsatisfied dependency error.
func IsUnsatisfiedDependency(err error) bool { return hasCode(err, ErrCodeUnsatisfiedDependency) }

// IsCyclicDependency reports whether err is a cyclic dependency error.
func IsCyclicDependency(err error) bool { return hasCode(err, ErrCodeCyclicDependency) }

// IsContract reports whether err was raised before any step ran.
func IsContract(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassContract
	}
	return false
}

func hasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// AsEngineError returns the first EngineError in err's chain.
func AsEngineError(err error) (*EngineError, bool) {
	var e *EngineError
	ok := errors.As(err, &e)
	return e, ok
}
