// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

package tiffremote

import "encoding/binary"

// ClientIO is the five-callback surface a decoding engine drives during
// attach, directory selection, and region decode. The sentinel conventions
// of the engine contract apply at this literal boundary and nowhere above
// it: Read returns 0 on end of stream or error, Write always returns 0,
// Seek returns -1 on failure, Close returns 0 or -1, Size returns the total
// byte length or 0.
type ClientIO interface {
	Read(p []byte) int
	Write(p []byte) int
	Seek(offset int64, whence int) int64
	Close() int
	Size() int64
}

// AttachMode controls how an engine binds to a stream.
type AttachMode uint8

const (
	// ReadOnly rejects any engine write path.
	ReadOnly AttachMode = 1 << iota

	// NoMemoryMap disables any memory-mapped fast path. Remote streams
	// have no stable backing memory to map.
	NoMemoryMap
)

// TagID identifies a directory tag.
type TagID uint16

// Directory tags read by this package.
const (
	TagImageWidth      TagID = 256
	TagImageLength     TagID = 257
	TagBitsPerSample   TagID = 258
	TagCompression     TagID = 259
	TagPhotometric     TagID = 262
	TagStripOffsets    TagID = 273
	TagSamplesPerPixel TagID = 277
	TagRowsPerStrip    TagID = 278
	TagStripByteCounts TagID = 279
	TagTileWidth       TagID = 322
)

// CompressionNone is the "no compression" scheme.
const CompressionNone uint16 = 1

// Engine is the decoding-engine boundary. Implementations parse the
// tagged-image format; this package only validates the header, feeds the
// engine bytes, and pools the handles it returns.
type Engine interface {
	// Attach binds the engine to a stream through its client I/O
	// callbacks. The detected byte order is a precondition, not something
	// the engine rediscovers. The engine owns cio until Detach, and
	// Detach must close it, so a successful Attach transfers stream
	// ownership to the returned handle.
	Attach(source string, order binary.ByteOrder, cio ClientIO, mode AttachMode) (EngineHandle, error)

	// SupportsCompression reports whether this engine build can decode
	// directories using the given compression scheme.
	SupportsCompression(scheme uint16) bool
}

// EngineHandle is a live attachment of an engine to one stream. A handle is
// not safe for concurrent use; it carries a mutable current-directory
// cursor that callers must re-establish via SelectDirectory before every
// read.
type EngineHandle interface {
	// SelectDirectory positions the handle at the index-th sub-image
	// directory, counting from zero.
	SelectDirectory(index int) error

	// Tag returns the scalar value of a tag in the current directory,
	// or false if the tag is absent.
	Tag(id TagID) (uint64, bool)

	// DecodeRegion decodes the (x, y, width, height) rectangle of the
	// current directory into dst as packed words with the red sample in
	// the low byte (the engine's native channel order). dst must hold at
	// least width*height words.
	DecodeRegion(x, y, width, height int, dst []uint32) error

	// Detach releases the handle and closes its client I/O.
	Detach() error
}
