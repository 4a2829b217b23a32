// Package push defines the notification payload and the delivery error model
// shared by the dispatcher and push providers.
package push

import (
	"errors"
	"fmt"
)

// Payload is the notification sent to every device of a broadcast.
type Payload struct {
	Title string
	Body  string

	// Data carries string-keyed metadata. Values are never empty-by-null;
	// absent values are encoded as "".
	Data map[string]string
}

// ErrorKind classifies a provider-reported delivery failure.
type ErrorKind string

const (
	// KindUnregistered means the token is no longer registered with the provider.
	KindUnregistered ErrorKind = "unregistered"

	// KindInvalidArgument means the provider rejected the token or request as malformed.
	KindInvalidArgument ErrorKind = "invalid-argument"

	// KindQuotaExceeded means the provider throttled the sender.
	KindQuotaExceeded ErrorKind = "quota-exceeded"

	// KindUnavailable means the provider was temporarily unavailable.
	KindUnavailable ErrorKind = "unavailable"

	// KindUnknown covers every other failure, including transport errors.
	KindUnknown ErrorKind = "unknown"
)

// Permanent reports whether the kind means the token will never succeed again.
func (k ErrorKind) Permanent() bool {
	return k == KindUnregistered || k == KindInvalidArgument
}

// SendError is returned by providers when a single send fails.
type SendError struct {
	Kind ErrorKind
	Err  error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("push send failed (%s)", e.Kind)
	}
	return fmt.Sprintf("push send failed (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from err. Errors that are not a SendError
// are reported as KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Kind
	}
	return KindUnknown
}
