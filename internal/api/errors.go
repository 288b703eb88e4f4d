package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies remote failures.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindUnauthorized
	KindValidation
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against *Error.
var (
	ErrNetwork          = errors.New("network error")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrValidationFailed = errors.New("validation failed")
	ErrServer           = errors.New("server error")
)

// FieldError is one entry of a structured validation response.
type FieldError struct {
	Param string `json:"param"`
	Msg   string `json:"msg"`
}

// Error is returned by every Client call that fails.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, f := range e.Fields {
		fmt.Fprintf(&b, "; %s: %s", f.Param, f.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrValidationFailed:
		return e.Kind == KindValidation
	case ErrServer:
		return e.Kind == KindServer
	}
	return false
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// KindOf returns the kind of err, or zero for non-remote errors.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return KindValidation
	default:
		return KindServer
	}
}

type errorBody struct {
	Message string       `json:"message"`
	Error   string       `json:"error"`
	Errors  []FieldError `json:"errors"`
}

func statusError(op string, status int, body []byte) *Error {
	e := &Error{Kind: kindForStatus(status), Op: op, Status: status}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		e.Message = strings.TrimSpace(parsed.Message)
		if e.Message == "" {
			e.Message = strings.TrimSpace(parsed.Error)
		}
		e.Fields = parsed.Errors
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) < 256 {
		e.Message = text
	}
	return e
}
