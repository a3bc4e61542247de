// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

package tiffremote

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat is returned when a stream is not a recognizable
	// tagged-image file. Use errors.Is to test for it; the concrete error
	// carries the source identifier and the offending bytes.
	ErrInvalidFormat = errors.New("tiffremote: invalid format")

	// ErrShapeMismatch is returned when an associated image's live
	// dimensions no longer match the dimensions recorded in its
	// descriptor, meaning the remote source changed since enumeration.
	ErrShapeMismatch = errors.New("tiffremote: image shape changed since enumeration")

	// ErrUnsupportedCompression is returned when a directory uses a
	// compression scheme the engine build cannot decode.
	ErrUnsupportedCompression = errors.New("tiffremote: unsupported compression scheme")
)

// errStop is an internal sentinel used by the engine parser to unwind out of
// deeply nested reads; it never escapes to callers.
var errStop = errors.New("stop")

var errShortRead = errors.New("tiffremote: short read")

type invalidFormatError struct {
	err error
}

func (e *invalidFormatError) Error() string { return e.err.Error() }

func (e *invalidFormatError) Is(target error) bool { return target == ErrInvalidFormat }

func (e *invalidFormatError) Unwrap() error { return e.err }

func newInvalidFormatErrorf(format string, args ...any) error {
	return &invalidFormatError{err: fmt.Errorf("tiffremote: "+format, args...)}
}
