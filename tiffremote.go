// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

// Package tiffremote adapts remote, seek-capable byte streams to a
// single-threaded TIFF-family decoding engine and pools the resulting
// decoder handles so that many goroutines can read from one source.
//
// A decoding engine assumes exclusive ownership of a file handle for its
// lifetime, which is at odds with byte sources that live behind HTTP or a
// cloud-storage API. This package sits between the two: it validates that a
// stream really is a tagged-image file, drives the engine through the five
// client I/O callbacks it requires, and keeps a bounded set of idle decoder
// handles per source so callers do not pay the open/probe/attach cost (or
// re-download the header) on every access.
//
// Pixel data is never cached here, only open handles. A handle is owned by
// exactly one goroutine between Acquire and Release; that single-owner
// contract is the entire thread-safety guarantee for handle use.
package tiffremote

// Options configures a Slide or Pool.
type Options struct {
	// Open opens a fresh stream for a source identifier. Required.
	Open StreamOpener

	// Engine is the decoding engine handles are attached to. Required.
	Engine Engine

	// MaxIdleHandles bounds how many idle handles a pool retains.
	// Releasing a handle into a full idle set destroys it instead.
	// If zero, defaults to 32.
	MaxIdleHandles int

	// Warnf is called for recoverable oddities, such as a stream close
	// failure while destroying a handle. If nil, warnings are dropped.
	Warnf func(string, ...any)
}

const defaultMaxIdleHandles = 32

func (o Options) withDefaults() Options {
	if o.MaxIdleHandles == 0 {
		o.MaxIdleHandles = defaultMaxIdleHandles
	}
	if o.Warnf == nil {
		o.Warnf = func(string, ...any) {}
	}
	return o
}
