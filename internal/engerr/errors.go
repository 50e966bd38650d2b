// Package engerr provides the stable error taxonomy for the reduction
// engine (template model, cache, evaluation engine, solver, reload codec).
package engerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one of the stable error categories of the error handling
// design. Kind values are part of the external contract: callers may
// match on them after an RPC round-trip where the Go error value itself
// does not survive the wire.
type Kind string

const (
	// KindInvalidTemplate indicates an unknown module id or a malformed wire endpoint.
	KindInvalidTemplate Kind = "InvalidTemplate"

	// KindValidation indicates a datatype mismatch or a duplicate singleton input.
	KindValidation Kind = "ValidationError"

	// KindCyclicDependency indicates the template graph is not acyclic.
	KindCyclicDependency Kind = "CyclicDependency"

	// KindMissingFile indicates a fileinfo-referenced file is absent or its
	// mtime is outdated. It is returned to the caller as is; nothing
	// retries the evaluation automatically.
	KindMissingFile Kind = "MissingFile"

	// KindIOError indicates a file-store transport failure.
	KindIOError Kind = "IOError"

	// KindModuleError indicates a module action raised during dispatch.
	KindModuleError Kind = "ModuleError"

	// KindUnsupportedFormat indicates the reload codec saw an unrecognized magic byte sequence.
	KindUnsupportedFormat Kind = "UnsupportedFormat"

	// KindMalformedHeader indicates a recognized format whose embedded header failed to parse.
	KindMalformedHeader Kind = "MalformedHeader"

	// KindNotFound indicates a module id was not found in the registry.
	KindNotFound Kind = "NotFound"
)

// Sentinel errors usable with errors.Is across the taxonomy.
var (
	ErrNotFound  = errors.New("not found")
	ErrCancelled = errors.New("cancelled")
)

// EngineError is the structured error type for every kind in the taxonomy.
// Cancellation is not an EngineError: it is returned as the plain sentinel
// error ErrCancelled.
type EngineError struct {
	Kind    Kind
	Message string

	// Node identifies the template node index the error pertains to, or -1
	// if not node-scoped.
	Node int

	// Context carries structured key/value detail (e.g. source/path for
	// MissingFile, nodes for CyclicDependency).
	Context map[string]string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Node >= 0 {
		fmt.Fprintf(&b, " (node %d)", e.Node)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	for k, v := range e.Context {
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an EngineError with the same Kind, or one
// of the package sentinels that the Kind corresponds to. This lets callers
// write errors.Is(err, engerr.ErrNotFound) as well as
// errors.Is(err, &EngineError{Kind: engerr.KindNotFound}).
func (e *EngineError) Is(target error) bool {
	var other *EngineError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	switch e.Kind {
	case KindNotFound:
		return target == ErrNotFound
	}
	return false
}

func newError(kind Kind, node int, message string, context map[string]string, cause error) *EngineError {
	return &EngineError{Kind: kind, Node: node, Message: message, Context: context, Cause: cause}
}

// InvalidTemplate builds a KindInvalidTemplate error.
func InvalidTemplate(message string, context map[string]string) *EngineError {
	return newError(KindInvalidTemplate, -1, message, context, nil)
}

// Validation builds a KindValidation error.
func Validation(message string, context map[string]string) *EngineError {
	return newError(KindValidation, -1, message, context, nil)
}

// CyclicDependency builds a KindCyclicDependency error naming the residual
// node set that could not be scheduled.
func CyclicDependency(nodes []int) *EngineError {
	strs := make([]string, len(nodes))
	for i, n := range nodes {
		strs[i] = fmt.Sprintf("%d", n)
	}
	return newError(KindCyclicDependency, -1, "template graph contains a cycle",
		map[string]string{"nodes": strings.Join(strs, ",")}, nil)
}

// MissingFile builds a KindMissingFile error for a fileinfo reference that
// could not be resolved.
func MissingFile(source, path string) *EngineError {
	return newError(KindMissingFile, -1, "referenced file is missing or stale",
		map[string]string{"source": source, "path": path}, nil)
}

// IOError builds a KindIOError error wrapping a file-store transport failure.
func IOError(message string, cause error) *EngineError {
	return newError(KindIOError, -1, message, nil, cause)
}

// ModuleError builds a KindModuleError error identifying the failing node.
func ModuleError(node int, message string, cause error) *EngineError {
	return newError(KindModuleError, node, message, nil, cause)
}

// UnsupportedFormat builds a KindUnsupportedFormat error for the reload codec.
func UnsupportedFormat(message string) *EngineError {
	return newError(KindUnsupportedFormat, -1, message, nil, nil)
}

// MalformedHeader builds a KindMalformedHeader error for the reload codec.
func MalformedHeader(message string, cause error) *EngineError {
	return newError(KindMalformedHeader, -1, message, nil, cause)
}

// NotFound builds a KindNotFound error for a registry lookup miss.
func NotFound(message string) *EngineError {
	return newError(KindNotFound, -1, message, nil, ErrNotFound)
}
