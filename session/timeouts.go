package session

import (
	"context"
	"errors"
	"net"
	"time"
)

// Timeouts scales every protocol step's maximum duration from a base
// Message timeout, per spec.md §5 ("Cancellation/timeouts") and the
// `message_timeout`/`approval_timeout`/`verification_timeout`/
// `transaction_timeout` configuration knobs in spec.md §6. Message bounds
// a single Send/Recv. Session itself reads none of the other three:
// Approval reaches protocol/establish and protocol/pay as their
// ApprovalTimeout, which bounds the Approve hook; Verification and
// Transaction are filled from configuration and are not read by any
// protocol step.
//
// A zero Timeouts leaves every step unbounded, matching the teacher's
// original behavior -- existing net.Pipe-based tests that never call
// SetTimeouts are unaffected.
type Timeouts struct {
	Message      time.Duration
	Approval     time.Duration
	Verification time.Duration
	Transaction  time.Duration
}

// SetTimeouts installs t, applied to every subsequent Send/Recv on s.
func (s *Session) SetTimeouts(t Timeouts) {
	s.timeouts = t
}

// deadlineFor returns the point in time a Send or Recv starting now must
// complete by, or the zero Time if Message is unset.
func (s *Session) deadlineFor() time.Time {
	if s.timeouts.Message <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.timeouts.Message)
}

// asTimeout converts a net.Error with Timeout()==true into the typed
// ProtocolError the rest of the codebase matches on; any other error
// passes through unchanged.
func asTimeout(err error, detail string) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeout(detail)
	}
	return err
}

// RunWithDeadline runs fn to completion, failing with a Timeout if it
// hasn't returned within d (d<=0 means unbounded). protocol/establish and
// protocol/pay use it to bound the Approve policy hook against the
// approval timeout, the same way Session itself bounds a Send/Recv
// against Timeouts.Message.
//
// fn receives no context: when the deadline passes first, RunWithDeadline
// returns a Timeout and fn keeps running in its own goroutine until it
// returns.
func RunWithDeadline(ctx context.Context, d time.Duration, detail string, fn func() error) error {
	if d <= 0 {
		return fn()
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return NewTimeout(detail)
	}
}
