// Package fault tags dependency failures with a kind and the name of the
// failing dependency so callers can distinguish them without string matching.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindEmbedding   Kind = "embedding"
	KindPersistence Kind = "persistence"
	KindRetrieval   Kind = "retrieval"
	KindResponder   Kind = "responder"
	KindValidation  Kind = "validation"
)

// Error wraps a dependency failure. Dep names the external collaborator
// (e.g. "vector-index", "relationship-store", "embedder", "responder").
type Error struct {
	Kind Kind
	Dep  string
	Err  error
}

func (e *Error) Error() string {
	if e.Dep == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Dep, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a tagged dependency fault. A nil err returns nil.
func New(kind Kind, dep string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Dep: dep, Err: err}
}

// Newf builds a tagged fault from a format string.
func Newf(kind Kind, dep, format string, args ...any) error {
	return &Error{Kind: kind, Dep: dep, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the fault kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
