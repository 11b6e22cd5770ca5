package schema

import (
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// FieldError reports a configuration value that does not satisfy its schema.
type FieldError struct {
	// Path is the dotted path of the offending field. Empty for the root.
	Path string

	// Message describes the violation.
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func fieldErrorf(path, format string, args ...any) *FieldError {
	return &FieldError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// fromCUE converts the most specific CUE error into a FieldError. Paths are
// reported relative to the config root.
func fromCUE(err error, prefix string) *FieldError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &FieldError{Path: prefix, Message: err.Error()}
	}

	e := mostSpecific(errs)
	path := e.Path()
	if len(path) > 0 && path[0] == definitionName {
		path = path[1:]
	}

	format, args := e.Msg()
	msg := fmt.Sprintf(format, args...)
	if isDisjunctionSummary(format) {
		msg = detailsLine(err)
	}
	return &FieldError{
		Path:    joinPath(prefix, strings.Join(path, ".")),
		Message: msg,
	}
}

// mostSpecific picks the error that names the failed constraint. A value
// failing a field with a default yields a "N errors in empty disjunction"
// summary followed by one error per branch; the conflict with the default
// branch is the least useful of those.
func mostSpecific(errs []cueerrors.Error) cueerrors.Error {
	var conflict cueerrors.Error
	for _, e := range errs {
		format, _ := e.Msg()
		switch {
		case isDisjunctionSummary(format):
			continue
		case strings.HasPrefix(format, "conflicting values"):
			if conflict == nil {
				conflict = e
			}
			continue
		}
		return e
	}
	if conflict != nil {
		return conflict
	}
	return errs[0]
}

func isDisjunctionSummary(format string) bool {
	return strings.Contains(format, "empty disjunction")
}

// detailsLine flattens the branch errors of a summary into one line.
func detailsLine(err error) string {
	var parts []string
	for _, line := range strings.Split(cueerrors.Details(err, nil), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "empty disjunction") || strings.HasPrefix(line, "./") || strings.Contains(line, ".cue:") {
			continue
		}
		parts = append(parts, strings.TrimSuffix(line, ":"))
	}
	if len(parts) == 0 {
		return err.Error()
	}
	return strings.Join(parts, "; ")
}

func joinPath(prefix, path string) string {
	switch {
	case prefix == "":
		return path
	case path == "":
		return prefix
	default:
		return prefix + "." + path
	}
}
