// Package direrr defines the error kinds shared across the config
// assembler, evaluation cache, push pipeline, process supervisor, and task
// engine. Each kind wraps an underlying cause and is distinguishable via
// errors.As so callers at the driver boundary can format consistent
// user-facing messages.
package direrr

import "fmt"

// Kind classifies which subsystem raised an error.
type Kind string

const (
	KindConfig  Kind = "config"
	KindEval    Kind = "eval"
	KindLock    Kind = "lock"
	KindBuild   Kind = "build"
	KindCache   Kind = "cache"
	KindPush    Kind = "push"
	KindProcess Kind = "process"
	KindTask    Kind = "task"
)

// Error is a typed, wrapped error carrying a kind and an optional
// suggestion shown to the user alongside the root cause.
type Error struct {
	Kind       Kind
	Msg        string
	Suggestion string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func WithSuggestion(kind Kind, msg string, cause error, suggestion string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause, Suggestion: suggestion}
}

func Config(msg string, cause error) *Error  { return Wrap(KindConfig, msg, cause) }
func Eval(msg string, cause error) *Error    { return Wrap(KindEval, msg, cause) }
func Lock(msg string, cause error) *Error    { return Wrap(KindLock, msg, cause) }
func Build(msg string, cause error) *Error   { return Wrap(KindBuild, msg, cause) }
func Cache(msg string, cause error) *Error   { return Wrap(KindCache, msg, cause) }
func Push(msg string, cause error) *Error    { return Wrap(KindPush, msg, cause) }
func Process(msg string, cause error) *Error { return Wrap(KindProcess, msg, cause) }
func Task(msg string, cause error) *Error    { return Wrap(KindTask, msg, cause) }
