// Package chaterr defines the failure kinds of the message-send pipeline.
package chaterr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindNone                Kind = ""
	KindValidationNoop      Kind = "validation_noop"
	KindImageDecode         Kind = "image_decode_error"
	KindImageProcessing     Kind = "image_processing_error"
	KindTimeout             Kind = "timeout_error"
	KindServerMisconfigured Kind = "server_misconfigured_error"
	KindRateLimited         Kind = "rate_limited_error"
	KindUpstreamServer      Kind = "upstream_server_error"
	KindUpstream            Kind = "upstream_error"
	KindNetwork             Kind = "network_error"
)

// Error is a classified pipeline failure. Status and Body are only set for
// failures derived from an HTTP response and are meant for logs, not users.
type Error struct {
	Kind   Kind
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, chaterr.ErrTimeout) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Status == 0 && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrImageDecode         = &Error{Kind: KindImageDecode}
	ErrImageProcessing     = &Error{Kind: KindImageProcessing}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrServerMisconfigured = &Error{Kind: KindServerMisconfigured}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrUpstreamServer      = &Error{Kind: KindUpstreamServer}
	ErrUpstream            = &Error{Kind: KindUpstream}
	ErrNetwork             = &Error{Kind: KindNetwork}
)

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// FromResponse builds an error that keeps the raw HTTP status and body.
func FromResponse(kind Kind, status int, body string) *Error {
	return &Error{Kind: kind, Status: status, Body: body}
}

// KindOf returns the kind of the first *Error in err's chain, or KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// IsImageFailure reports whether the kind belongs to the image preprocessing stage.
func (k Kind) IsImageFailure() bool {
	return k == KindImageDecode || k == KindImageProcessing
}
