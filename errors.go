// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"errors"
	"fmt"
)

// TimeoutPayload is the failure value sent when a request handler does not
// answer before the response deadline.
const TimeoutPayload = "CLOSED"

var (
	ErrNotStarted   = errors.New("bus: not started")
	ErrStopped      = errors.New("bus: stopped")
	ErrDoubleAnswer = errors.New("bus: request already answered")
	ErrNoFactory    = errors.New("bus: no transport factory")
)

// RemoteError carries the failure value a remote handler answered with.
type RemoteError struct {
	Value any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bus: remote failure: %v", e.Value)
}

// IsTimeout reports whether err is the failure produced by the remote
// side's response deadline.
func IsTimeout(err error) bool {
	var remote *RemoteError
	if !errors.As(err, &remote) {
		return false
	}
	s, ok := remote.Value.(string)
	return ok && s == TimeoutPayload
}
