package lock

import (
	"fmt"
	"time"

	"github.com/enverbisevac/distlock/errors"
)

var (
	// ErrTimeout matches every *TimeoutError with errors.Is.
	ErrTimeout = errors.New("lock: acquire timed out")

	// ErrNotHeld is returned by Locker.Unlock when the backend entry no
	// longer carries this locker's value.
	ErrNotHeld = errors.New("lock: not held")
)

// TimeoutError is returned by Acquire when the lock could not be obtained
// within the timeout or the retry cap.
type TimeoutError struct {
	Key     string
	Elapsed time.Duration
	Retries int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock: acquire %q timed out after %s (%d retries)",
		e.Key, e.Elapsed.Round(time.Millisecond), e.Retries)
}

// Is reports whether target is ErrTimeout or another TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrTimeout {
		return true
	}
	_, ok := target.(*TimeoutError)
	return ok
}

// IsTimeout checks if err is an acquisition timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
