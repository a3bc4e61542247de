// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

package tiffremote

import (
	"fmt"
	"math/bits"
)

// AssociatedImage describes a named, non-pyramidal sub-image of a slide,
// such as a label or macro photo. The geometry is recorded once when the
// source's directory structure is enumerated and validated again on every
// decode; descriptors are read-only afterwards.
type AssociatedImage struct {
	Name      string
	Width     int64
	Height    int64
	Directory int

	slide *Slide
}

// Pixels decodes the associated image into a freshly allocated buffer of
// Width*Height packed ARGB words. A handle is acquired from the slide's
// pool for the duration of the decode; on failure it is discarded rather
// than returned.
func (img *AssociatedImage) Pixels() ([]uint32, error) {
	dst := make([]uint32, img.Width*img.Height)
	if err := img.DecodeInto(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// DecodeInto decodes the associated image into dst, which must hold at
// least Width*Height words. On any failure dst is zero-filled, so callers
// never observe partially-initialized pixels.
func (img *AssociatedImage) DecodeInto(dst []uint32) error {
	h, err := img.slide.pool.Acquire()
	if err != nil {
		clear(dst)
		return err
	}
	if err := decodeAssociated(h, img, dst); err != nil {
		img.slide.pool.Discard(h)
		return err
	}
	img.slide.pool.Release(h)
	return nil
}

// decodeAssociated reads the full rectangle of the descriptor's directory
// through h into dst and normalizes the channel order. dst is zero-filled
// on every failure path.
func decodeAssociated(h *Handle, img *AssociatedImage, dst []uint32) (err error) {
	defer func() {
		if err != nil {
			clear(dst)
		}
	}()

	if int64(len(dst)) < img.Width*img.Height {
		return fmt.Errorf("tiffremote: associated image %q: buffer holds %d pixels, need %d",
			img.Name, len(dst), img.Width*img.Height)
	}

	width, height, err := liveGeometry(h, img.Directory)
	if err != nil {
		return err
	}
	if width != img.Width || height != img.Height {
		return fmt.Errorf("tiffremote: associated image %q in %q: %w: recorded %dx%d, directory reports %dx%d",
			img.Name, h.Source(), ErrShapeMismatch, img.Width, img.Height, width, height)
	}

	scheme, err := h.Compression(img.Directory)
	if err != nil {
		return err
	}
	if !h.SupportsCompression(scheme) {
		return fmt.Errorf("tiffremote: associated image %q in %q: %w: scheme %d",
			img.Name, h.Source(), ErrUnsupportedCompression, scheme)
	}

	if err := h.DecodeRegion(img.Directory, 0, 0, int(img.Width), int(img.Height), dst); err != nil {
		return err
	}

	for i, p := range dst {
		dst[i] = rgbaToARGB(p)
	}
	return nil
}

// liveGeometry reads the current width and height tags of directory dir.
func liveGeometry(h *Handle, dir int) (width, height int64, err error) {
	w, ok, err := h.Tag(dir, TagImageWidth)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, newInvalidFormatErrorf("directory %d of %q has no width tag", dir, h.Source())
	}
	l, ok, err := h.Tag(dir, TagImageLength)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, newInvalidFormatErrorf("directory %d of %q has no length tag", dir, h.Source())
	}
	return int64(w), int64(l), nil
}

// rgbaToARGB converts one packed engine-native word (red in the low byte)
// to the ARGB order callers expect: a byte swap followed by rotating the
// alpha byte back to the top. Branch-free; applied to every pixel.
func rgbaToARGB(p uint32) uint32 {
	return bits.RotateLeft32(bits.ReverseBytes32(p), -8)
}
