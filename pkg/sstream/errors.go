package sstream

import "github.com/pkg/errors"

var (
	// ErrNoMemory is returned by New when the backing storage cannot be allocated.
	ErrNoMemory = errors.New("sstream: cannot allocate buffer")
	// ErrNoSpace is returned when a write is larger than the free space.
	ErrNoSpace = errors.New("sstream: not enough free space")
	// ErrNoData is returned when a read is larger than the data ahead of the cursor.
	ErrNoData = errors.New("sstream: not enough data")
	// ErrBadOffset is returned when a seek target is outside the resident data.
	ErrBadOffset = errors.New("sstream: offset out of range")
)
