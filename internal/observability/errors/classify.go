// Package errors derives metric-friendly labels from Go errors.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"
)

// Classify reduces an error to a stable tag value for metrics. The error is
// unwrapped to its root cause first, then named after its concrete type in
// lowercase with package dots flattened to underscores.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	return typeLabel(rootCause(err))
}

func rootCause(err error) error {
	for {
		next := goerrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func typeLabel(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	label := strings.NewReplacer("*", "", ".", "_").Replace(t.String())
	label = strings.ToLower(label)
	if label == "" {
		return "unknown"
	}
	return label
}
