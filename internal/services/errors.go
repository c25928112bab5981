package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrHandler       = errors.New("handler failure")
	ErrTransport     = errors.New("transport error")
	ErrCallback      = errors.New("callback error")
	ErrExternal      = errors.New("external service error")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to the short category label used in logs and API
// responses. Unknown errors classify as "internal".
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrHandler):
		return "handler"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrCallback):
		return "callback"
	case errors.Is(err, ErrExternal):
		return "external"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "internal"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
