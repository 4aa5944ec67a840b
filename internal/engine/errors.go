package engine

import "errors"

var (
	// ErrStateConflict means a lifecycle action lost the race for a
	// thread: the conditional status update found the thread already
	// resolved. Callers treat it as "no-op, already resolved", not as a
	// failure to surface loudly.
	ErrStateConflict = errors.New("thread already resolved")

	// ErrThreadNotFound means no thread exists for the given id
	ErrThreadNotFound = errors.New("thread not found")

	// ErrValidation means the inbound payload was malformed; no state
	// was created.
	ErrValidation = errors.New("invalid inbound message")

	// ErrSendFailure means the mail transport rejected the send. The
	// thread remains in its pre-send status so the caller can retry.
	ErrSendFailure = errors.New("mail send failed")
)
