package client

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call
type Kind int

const (
	// KindTransport means the server could not be reached or the exchange
	// was cut short.
	KindTransport Kind = iota
	// KindStatus means the server answered with a non-2xx status.
	KindStatus
	// KindMalformed means a 2xx answer whose body could not be decoded.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrTransport matches unreachable servers and non-2xx answers.
	ErrTransport = errors.New("transport failure")
	// ErrMalformed matches undecodable response bodies.
	ErrMalformed = errors.New("malformed response")
)

// Error wraps every failure returned by Client.
type Error struct {
	Op         string // "list threads", "state", "last update", ...
	Kind       Kind
	StatusCode int    // set for KindStatus
	Body       string // leading part of the response body, for KindStatus
	Cause      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Body != "" {
			return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case KindMalformed:
		return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Cause)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is classify an Error against ErrTransport and ErrMalformed.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport || e.Kind == KindStatus
	case ErrMalformed:
		return e.Kind == KindMalformed
	}
	return false
}

// StatusCode extracts the HTTP status of a KindStatus error, or 0.
func StatusCode(err error) int {
	var ce *Error
	if errors.As(err, &ce) && ce.Kind == KindStatus {
		return ce.StatusCode
	}
	return 0
}
