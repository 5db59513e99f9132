package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/room4-2/OrderDesk/llm"
)

// ErrEmptyHistory is returned when Run is called without messages
var ErrEmptyHistory = errors.New("conversation history is empty")

// Kind classifies a loop failure for the caller
type Kind string

const (
	// KindServiceUnavailable means the capability could not be reached or was overloaded
	KindServiceUnavailable Kind = "service_unavailable"
	// KindRequestFailed means the capability rejected or could not answer the request
	KindRequestFailed Kind = "request_failed"
)

// Error is a typed failure of the conversation loop
type Error struct {
	Kind  Kind
	Round int
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s in round %d (%s): %v", e.Op, e.Round, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is a service-unavailable loop failure
func IsUnavailable(err error) bool {
	var loopErr *Error
	return errors.As(err, &loopErr) && loopErr.Kind == KindServiceUnavailable
}

func newError(op string, round int, err error) *Error {
	kind := KindRequestFailed
	if errors.Is(err, llm.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindServiceUnavailable
	}
	return &Error{Kind: kind, Round: round, Op: op, Err: err}
}
