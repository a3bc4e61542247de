// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

package tiffremote

import "io"

// Stream is the capability set a remote byte source must provide. Reads and
// seeks may block on network I/O; cancellation and retry policy belong to
// the stream implementation, not to this package. The current position is
// available via Seek(0, io.SeekCurrent).
//
// Size must report the total length of the true underlying data source,
// not of any buffering or framing layer wrapped around it; the engine uses
// it for directory and offset bounds checks.
type Stream interface {
	io.Reader
	io.Seeker
	io.Closer

	// Size returns the total byte length of the underlying data source.
	Size() (int64, error)
}

// StreamOpener opens a fresh Stream for a source identifier. The identifier
// is opaque to this package: any URI or path the stream layer can resolve.
type StreamOpener func(source string) (Stream, error)

// streamAdapter exposes a Stream through the sentinel-convention client I/O
// surface the decoding engine mandates. It holds no buffering of its own and
// allocates nothing on the read path.
type streamAdapter struct {
	s      Stream
	closed bool
}

func newStreamAdapter(s Stream) *streamAdapter {
	return &streamAdapter{s: s}
}

// Read returns the number of bytes read, or 0 on end of stream or I/O
// error. The engine treats both identically; no distinct EOF signal exists
// at this boundary.
func (a *streamAdapter) Read(p []byte) int {
	n, _ := a.s.Read(p)
	if n < 0 {
		return 0
	}
	return n
}

// Write always reports 0 bytes written. This package is read-only; a write
// attempt is a logic error in the engine's parsing path and surfaces as an
// engine-level failure.
func (a *streamAdapter) Write(p []byte) int {
	return 0
}

// Seek returns the new absolute position, or -1 on failure.
func (a *streamAdapter) Seek(offset int64, whence int) int64 {
	pos, err := a.s.Seek(offset, whence)
	if err != nil {
		return -1
	}
	return pos
}

// Close closes the underlying stream. It returns -1 if the stream reported
// a close failure; the adapter's resources are released regardless.
func (a *streamAdapter) Close() int {
	if a.closed {
		return 0
	}
	a.closed = true
	if err := a.s.Close(); err != nil {
		return -1
	}
	return 0
}

// Size returns the total byte length of the underlying data source, or 0 if
// the stream cannot report it.
func (a *streamAdapter) Size() int64 {
	n, err := a.s.Size()
	if err != nil {
		return 0
	}
	return n
}
