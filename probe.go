// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

package tiffremote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	byteOrderBigEndian    = 'M' // 0x4D, doubled in the header
	byteOrderLittleEndian = 'I' // 0x49, doubled in the header

	versionClassic = 42 // classic 32-bit offsets
	versionBig     = 43 // BigTIFF, 64-bit offsets
)

// probe validates the tagged-image header of s and returns the detected
// byte order. The signature and endianness must be known before the engine
// attaches, because the engine's open routine takes the byte order as a
// precondition rather than discovering it.
//
// On any failure the stream is closed before returning, so the caller never
// holds a half-validated stream. On success the stream position is
// unspecified; the engine seeks to the start itself.
func probe(s Stream, source string) (binary.ByteOrder, error) {
	order, err := probeHeader(s, source)
	if err != nil {
		s.Close()
		return nil, err
	}
	return order, nil
}

func probeHeader(s Stream, source string) (binary.ByteOrder, error) {
	var buf [4]byte
	if _, err := io.ReadFull(s, buf[:2]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newInvalidFormatErrorf("couldn't read magic number for %q", source)
		}
		return nil, fmt.Errorf("tiffremote: reading header of %q: %w", source, err)
	}
	if buf[0] != buf[1] {
		return nil, newInvalidFormatErrorf("not a TIFF stream: %q", source)
	}

	var order binary.ByteOrder
	switch buf[0] {
	case byteOrderBigEndian:
		order = binary.BigEndian
	case byteOrderLittleEndian:
		order = binary.LittleEndian
	default:
		return nil, newInvalidFormatErrorf("not a TIFF stream: %q", source)
	}

	if _, err := io.ReadFull(s, buf[2:4]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newInvalidFormatErrorf("truncated header in %q", source)
		}
		return nil, fmt.Errorf("tiffremote: reading header of %q: %w", source, err)
	}
	if v := order.Uint16(buf[2:4]); v != versionClassic && v != versionBig {
		return nil, newInvalidFormatErrorf("unrecognized version %d in %q", v, source)
	}

	return order, nil
}
