package syncq

import (
	"errors"
	"fmt"
)

// RemoteError is a non-2xx response from the delivery endpoint. The
// affected records have already been returned to pending; delivery is
// retried on the next sync trigger.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote rejected delivery: status %d", e.Status)
	}
	return fmt.Sprintf("remote rejected delivery: status %d: %s", e.Status, e.Body)
}

// IsRemoteError reports whether err is a non-2xx delivery rejection.
// Uses errors.As to handle wrapped errors.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
