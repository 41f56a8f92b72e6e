package errdef

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown    Code = "unknown"
	CodeFilesystem Code = "filesystem"
	CodeParse      Code = "parse"
	CodeNotFound   Code = "not_found"
	CodeConflict   Code = "conflict"
	CodeSecret     Code = "secret_store"
	CodeScript     Code = "script"
	CodePreScript  Code = "pre_script"
	CodePostScript Code = "post_script"
	CodeHTTP       Code = "http"
	CodeTimeout    Code = "timeout"
	CodeConnect    Code = "connect"
	// CodeRequestBuild covers invalid URLs, methods and unreadable bodies on the way out.
	CodeRequestBuild Code = "request_build"
	CodeBodyRead     Code = "body_read"
	CodeDecode       Code = "response_decode"
	CodeHistory      Code = "history"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns nil when err is nil so callers can wrap unconditionally.
func Wrap(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf reports the outermost code in the chain.
func CodeOf(err error) Code {
	var target *Error
	if errors.As(err, &target) && target != nil {
		return target.Code
	}
	return CodeUnknown
}

// Is walks the whole chain, unlike CodeOf.
func Is(err error, code Code) bool {
	for err != nil {
		var target *Error
		if !errors.As(err, &target) || target == nil {
			return false
		}
		if target.Code == code {
			return true
		}
		err = target.Err
	}
	return false
}

func Message(err error) string {
	if err == nil {
		return ""
	}
	var target *Error
	if errors.As(err, &target) && target != nil {
		return target.Error()
	}
	return err.Error()
}
