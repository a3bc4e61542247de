// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

package tiffremote

import (
	"sort"
)

// Slide owns the handle pool for one remote source and the associated
// images registered against it. Register associated images while the slide
// is being set up; once it is shared across goroutines the descriptor set
// must be treated as read-only.
//
// The slide outlives every handle its pool issues: close it only after all
// acquired handles have been released.
type Slide struct {
	pool       *Pool
	associated map[string]*AssociatedImage
}

// OpenSlide validates source and prepares a slide for it. The validation
// opens one stream, probes the header, attaches the engine, and parks the
// resulting handle in the pool, so a successful OpenSlide means the source
// is a readable tagged-image file.
func OpenSlide(source string, opts Options) (*Slide, error) {
	pool, err := NewPool(source, opts)
	if err != nil {
		return nil, err
	}

	h, err := pool.Acquire()
	if err != nil {
		return nil, err
	}
	pool.Release(h)

	return &Slide{
		pool:       pool,
		associated: make(map[string]*AssociatedImage),
	}, nil
}

// Pool exposes the slide's handle pool for direct tag and region reads.
func (s *Slide) Pool() *Pool { return s.pool }

// AddAssociatedImage enumerates the geometry of directory dir and registers
// it under name. The recorded geometry is validated again on every decode;
// if the remote object changes shape afterwards, decodes fail with
// ErrShapeMismatch rather than silently resizing.
func (s *Slide) AddAssociatedImage(name string, dir int) error {
	h, err := s.pool.Acquire()
	if err != nil {
		return err
	}
	width, height, err := liveGeometry(h, dir)
	if err != nil {
		s.pool.Discard(h)
		return err
	}
	s.pool.Release(h)

	s.associated[name] = &AssociatedImage{
		Name:      name,
		Width:     width,
		Height:    height,
		Directory: dir,
		slide:     s,
	}
	return nil
}

// AssociatedImage returns the descriptor registered under name.
func (s *Slide) AssociatedImage(name string) (*AssociatedImage, bool) {
	img, ok := s.associated[name]
	return img, ok
}

// AssociatedImageNames returns the registered names, sorted.
func (s *Slide) AssociatedImageNames() []string {
	names := make([]string, 0, len(s.associated))
	for name := range s.associated {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close destroys the pool's idle handles. Handles still checked out remain
// valid until released.
func (s *Slide) Close() {
	s.pool.Close()
}
