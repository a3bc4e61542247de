// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

package tiffremote

import (
	"encoding/binary"
	"fmt"
)

// Handle is an open decoder handle bound to one source. Exactly one
// goroutine may use a handle at any instant; between Acquire and Release
// there is no further synchronization.
//
// The engine's current-directory cursor is mutable engine state and is not
// preserved across pool reuse, so every read operation takes the directory
// index explicitly and re-selects it.
type Handle struct {
	source string
	order  binary.ByteOrder
	eng    Engine
	raw    EngineHandle
}

// openHandle opens a fresh stream for source, probes its header, and
// attaches the engine read-only with memory mapping disabled. Every failure
// path leaves the stream closed.
func openHandle(source string, open StreamOpener, eng Engine) (*Handle, error) {
	s, err := open(source)
	if err != nil {
		return nil, fmt.Errorf("tiffremote: opening %q: %w", source, err)
	}

	// probe closes the stream itself on failure.
	order, err := probe(s, source)
	if err != nil {
		return nil, err
	}

	adapter := newStreamAdapter(s)
	raw, err := eng.Attach(source, order, adapter, ReadOnly|NoMemoryMap)
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("tiffremote: attaching engine to %q: %w", source, err)
	}

	return &Handle{
		source: source,
		order:  order,
		eng:    eng,
		raw:    raw,
	}, nil
}

// Source returns the source identifier this handle was opened for.
func (h *Handle) Source() string { return h.source }

// ByteOrder returns the byte order detected when the source was probed.
func (h *Handle) ByteOrder() binary.ByteOrder { return h.order }

// Tag selects directory dir and reads the scalar value of a tag from it.
// The bool result reports whether the tag is present.
func (h *Handle) Tag(dir int, id TagID) (uint64, bool, error) {
	if err := h.selectDirectory(dir); err != nil {
		return 0, false, err
	}
	v, ok := h.raw.Tag(id)
	return v, ok, nil
}

// Compression selects directory dir and returns its compression scheme.
// A directory without a compression tag defaults to CompressionNone.
func (h *Handle) Compression(dir int) (uint16, error) {
	v, ok, err := h.Tag(dir, TagCompression)
	if err != nil {
		return 0, err
	}
	if !ok {
		return CompressionNone, nil
	}
	return uint16(v), nil
}

// SupportsCompression reports whether the engine this handle is attached to
// can decode the given compression scheme.
func (h *Handle) SupportsCompression(scheme uint16) bool {
	return h.eng.SupportsCompression(scheme)
}

// DecodeRegion selects directory dir and decodes the (x, y, width, height)
// rectangle into dst in the engine's native channel order.
func (h *Handle) DecodeRegion(dir, x, y, width, height int, dst []uint32) error {
	if err := h.selectDirectory(dir); err != nil {
		return err
	}
	if err := h.raw.DecodeRegion(x, y, width, height, dst); err != nil {
		return fmt.Errorf("tiffremote: decoding directory %d of %q: %w", dir, h.source, err)
	}
	return nil
}

func (h *Handle) selectDirectory(dir int) error {
	if err := h.raw.SelectDirectory(dir); err != nil {
		return fmt.Errorf("tiffremote: selecting directory %d in %q: %w", dir, h.source, err)
	}
	return nil
}

func (h *Handle) close() error {
	return h.raw.Detach()
}
