// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import "sync/atomic"

// Sequence hands out correlation ids. The first call to Next returns the
// seed. Values wrap around at the end of the uint64 range.
type Sequence struct {
	next atomic.Uint64
}

// NewSequence returns a sequence starting at seed.
func NewSequence(seed uint64) *Sequence {
	s := &Sequence{}
	s.next.Store(seed)
	return s
}

// Next returns the current value and advances the sequence.
func (s *Sequence) Next() uint64 {
	return s.next.Add(1) - 1
}
