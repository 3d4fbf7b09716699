package taxonomy

import (
	"errors"
	"fmt"
)

// ErrLoad matches every *LoadError through errors.Is.
var ErrLoad = errors.New("taxonomy load failed")

// LoadErrorKind classifies a rejected dataset.
type LoadErrorKind string

const (
	KindMalformed        LoadErrorKind = "malformed"
	KindMissingLevel     LoadErrorKind = "missing_level"
	KindDuplicateSibling LoadErrorKind = "duplicate_sibling"
	KindCycle            LoadErrorKind = "cycle"
	KindUnknownParent    LoadErrorKind = "unknown_parent"
)

// LoadError is fatal: nothing can be resolved without a taxonomy.
type LoadError struct {
	Kind LoadErrorKind
	Node string // path or id of the offending node, if known
	Msg  string
	Err  error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("taxonomy: %s", e.Kind)
	if e.Node != "" {
		msg += fmt.Sprintf(" at %s", e.Node)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

func loadErr(kind LoadErrorKind, node, format string, args ...any) *LoadError {
	return &LoadError{Kind: kind, Node: node, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a *LoadError of kind.
func IsKind(err error, kind LoadErrorKind) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Kind == kind
}
