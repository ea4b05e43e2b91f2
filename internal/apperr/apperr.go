// Package apperr defines the error taxonomy shared by every component.
//
// Errors are classified by Kind. Components convert I/O and backend failures
// at the call site that issued them, so handlers only ever see *Error values.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindConfiguration Kind = "configuration_error"
	KindValidation    Kind = "validation_error"
	KindBackend       Kind = "backend_error"
	KindTimeout       Kind = "backend_timeout"
	KindNotFound      Kind = "not_found"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrBackend       = &Error{Kind: KindBackend}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrNotFound      = &Error{Kind: KindNotFound}
)

// Stages reported on backend failures.
const (
	StageManifest    = "manifest"
	StageScan        = "scan"
	StageExtract     = "extract"
	StageSplit       = "split"
	StageEmbed       = "embed"
	StageUpsert      = "upsert"
	StageRetrieve    = "retrieve"
	StageRerank      = "rerank"
	StageSynthesize  = "synthesize"
	StageUnavailable = "unavailable"
)

type Error struct {
	Kind     Kind
	Stage    string
	Filename string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " [stage=%s]", e.Stage)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so errors.Is(err, ErrTimeout) works
// regardless of stage or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Stage == "" && t.Message == "" && t.Err == nil
}

// Details returns the underlying cause as a string, or "" when there is none.
func (e *Error) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func Configuration(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

func Configurationf(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Backend wraps a failure of an external call. A context deadline becomes a
// timeout. An err that is already an *Error keeps its kind; a backend or
// timeout error without a filename gets a copy naming filename, and stage if
// it had none.
func Backend(stage, filename string, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		if filename == "" || ae.Filename != "" || (ae.Kind != KindBackend && ae.Kind != KindTimeout) {
			return ae
		}
		cp := *ae
		cp.Filename = filename
		cp.Message = "Failed on file " + filename
		if cp.Stage == "" {
			cp.Stage = stage
		}
		return &cp
	}
	kind := KindBackend
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	msg := "backend call failed"
	if filename != "" {
		msg = "Failed on file " + filename
	}
	return &Error{Kind: kind, Stage: stage, Filename: filename, Message: msg, Err: err}
}

// KindOf classifies any error. Unclassified errors are backend errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindBackend
}

func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation, KindConfiguration:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Payload builds the JSON error body written by every handler.
func Payload(err error, correlationID string) map[string]any {
	resp := map[string]any{
		"error":         err.Error(),
		"kind":          KindOf(err),
		"correlationId": correlationID,
	}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Message != "" {
			resp["error"] = ae.Message
		}
		if d := ae.Details(); d != "" {
			resp["details"] = d
		}
		if ae.Stage != "" {
			resp["stage"] = ae.Stage
		}
		if ae.Filename != "" {
			resp["filename"] = ae.Filename
		}
	}
	return resp
}
