// Package remoteerr turns remote server failures into typed errors with
// stable, greppable messages.
package remoteerr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// MessagePrefix starts every message for a server-reported condition that is
// not in the known conditions table.
const MessagePrefix = "Remote server returned an error: "

// Sentinel errors. Match them with errors.Is.
var (
	ErrMalformedResponse = errors.New("malformed response from remote server")
	ErrUnexpectedState   = errors.New("unexpected job state")
	ErrCanceled          = errors.New("job polling canceled")

	ErrSourceDocumentNotFound = errors.New("source document work file not found")
	ErrMarkupNotFound         = errors.New("markup work file not found")
	ErrInvalidMarkup          = errors.New("markup failed schema validation")
	ErrUnprocessableDocument  = errors.New("source document could not be processed")
	ErrUnsupportedLineEndings = errors.New("unsupported line endings")
	ErrInvalidRule            = errors.New("redaction rule rejected")
)

// Error is a failure reported by, or read from, the remote server.
type Error struct {
	// StatusCode is the HTTP status of the response that carried the failure.
	StatusCode int
	// Code is the server's errorCode, empty when the body had none.
	Code string
	// Details is the server's errorDetails payload, verbatim.
	Details json.RawMessage
	// Body is the raw response body.
	Body []byte
	// State is the job state string for unexpected-state errors.
	State string

	kind  error
	cause error
	msg   string
}

func (e *Error) Error() string { return e.msg }

// Unwrap exposes the sentinel for known conditions and kinds, plus any underlying cause.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.kind != nil {
		errs = append(errs, e.kind)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Known reports whether the error matched the known conditions table.
func (e *Error) Known() bool {
	switch e.kind {
	case nil, ErrMalformedResponse, ErrUnexpectedState:
		return false
	}
	return true
}

type errorPayload struct {
	ErrorCode    string          `json:"errorCode"`
	ErrorDetails json.RawMessage `json:"errorDetails"`
}

// Classify converts a non-2xx response into a typed error.
// A body carrying a structured errorCode is checked against the known
// conditions for the request described by rc; anything else is rendered
// generically.
func Classify(status int, body []byte, rc RequestContext) error {
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.ErrorCode == "" {
		return &Error{
			StatusCode: status,
			Body:       body,
			msg:        MessagePrefix + reasonPhrase(status),
		}
	}
	return classify(status, payload.ErrorCode, payload.ErrorDetails, body, rc)
}

// ClassifyJobError converts the errorCode/errorDetails of a job that ended in
// the error state into a typed error.
func ClassifyJobError(code string, details json.RawMessage, body []byte, rc RequestContext) error {
	if code == "" {
		return MissingOutput("errorCode", http.StatusOK, body)
	}
	return classify(http.StatusOK, code, details, body, rc)
}

func classify(status int, code string, details json.RawMessage, body []byte, rc RequestContext) error {
	e := &Error{
		StatusCode: status,
		Code:       code,
		Details:    details,
		Body:       body,
	}
	d := parseDetails(details)
	if c, ok := matchKnown(code, d, rc); ok {
		e.kind = c.kind
		e.msg = c.message(d, rc)
		if c.withDetails {
			e.msg = appendDetails(e.msg, details)
		}
		return e
	}
	e.msg = genericMessage(code, details)
	return e
}

func genericMessage(code string, details json.RawMessage) string {
	return appendDetails(MessagePrefix+code, details)
}

// appendDetails adds the server's error details to msg, indented.
func appendDetails(msg string, details json.RawMessage) string {
	if len(details) == 0 || bytes.Equal(bytes.TrimSpace(details), []byte("null")) {
		return msg
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, details, "", "  "); err != nil {
		return msg + " " + string(details)
	}
	return msg + " " + buf.String()
}

func reasonPhrase(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}

// Malformed reports a response that could not be read as the expected JSON shape.
func Malformed(status int, body []byte, cause error) error {
	return &Error{
		StatusCode: status,
		Body:       body,
		kind:       ErrMalformedResponse,
		cause:      cause,
		msg:        fmt.Sprintf("Remote server returned a malformed response (HTTP %d): %v", status, cause),
	}
}

// UnexpectedState reports a job state outside processing, complete and error.
// The message carries the literal state and the raw body.
func UnexpectedState(state string, body []byte) error {
	return &Error{
		StatusCode: http.StatusOK,
		Body:       body,
		State:      state,
		kind:       ErrUnexpectedState,
		msg:        fmt.Sprintf("Remote server returned an unexpected job state %q. Response body:\n%s", state, body),
	}
}

// MissingOutput reports a terminal job response that lacks data the caller needs.
func MissingOutput(field string, status int, body []byte) error {
	return &Error{
		StatusCode: status,
		Body:       body,
		kind:       ErrUnexpectedState,
		msg:        fmt.Sprintf("Remote server response is missing %q. Response body:\n%s", field, body),
	}
}

// Canceled wraps the context error that stopped a poll loop.
// The result matches both ErrCanceled and cause.
func Canceled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}
