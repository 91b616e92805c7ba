package corpus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind classifies a failure so callers can branch on retriable versus terminal
// outcomes without inspecting error text.
type Kind uint8

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindTransientNetwork
	KindRateLimited
	KindMalformedResponse
	KindUniquenessConflict
	KindStoreUnavailable
	KindTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindTransientNetwork:   "transient_network",
	KindRateLimited:        "rate_limited",
	KindMalformedResponse:  "malformed_response",
	KindUniquenessConflict: "uniqueness_conflict",
	KindStoreUnavailable:   "store_unavailable",
	KindTimeout:            "timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name. Unrecognized names decode to KindUnknown.
func (k *Kind) UnmarshalText(text []byte) error {
	name := strings.TrimSpace(string(text))
	for kind, n := range kindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	*k = KindUnknown
	return nil
}

// Retriable reports whether another attempt may succeed. Unknown failures are
// treated like transient network errors.
func (k Kind) Retriable() bool {
	switch k {
	case KindUnknown, KindTransientNetwork, KindRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}

// Error carries a Kind plus the operation and identifier it relates to.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	// RetryAfter is the server-requested delay for KindRateLimited.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.ID != "" {
		b.WriteString(e.ID)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error from a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithID returns a copy of e scoped to a document or page identifier.
func (e *Error) WithID(id string) *Error {
	out := *e
	out.ID = id
	return &out
}

// ErrEnumerationAborted is returned when no page of a listing could be fetched.
var ErrEnumerationAborted = errors.New("enumeration aborted: no page fetched successfully")

// KindOf classifies err. Deadline and net timeouts map to KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransientNetwork
	}
	return KindUnknown
}

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindUniquenessConflict
}

// IsStoreUnavailable reports whether err means the store cannot be reached.
func IsStoreUnavailable(err error) bool {
	return err != nil && KindOf(err) == KindStoreUnavailable
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.RetryAfter
	}
	return 0
}
