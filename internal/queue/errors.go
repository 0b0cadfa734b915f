package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLeased reports an Ack or Fail for a message that is not currently
	// processing. Duplicate acks and late resolutions land here; callers treat
	// it as a soft failure, never a crash.
	ErrNotLeased = errors.New("queue: message not leased")

	// ErrNotFound reports an operation on an unknown message identifier.
	ErrNotFound = errors.New("queue: message not found")

	// ErrStoreUnavailable wraps failures of the durable store. The engine does
	// not retry internally; callers retry with backoff.
	ErrStoreUnavailable = errors.New("queue: store unavailable")
)

// storeErr tags a storage failure with ErrStoreUnavailable for errors.Is.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
