// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

package tiffremote

import (
	"errors"
	"sync"
)

// Pool caches open decoder handles for one source so callers avoid paying
// the open/probe/attach cost on every access. Any number of goroutines may
// call Acquire, Release, and Discard concurrently.
//
// Only the idle set is bounded. Acquire never blocks waiting for capacity:
// when no idle handle is available a new one is created on demand, so
// MaxIdleHandles caps long-term handle retention, not concurrency.
type Pool struct {
	source  string
	open    StreamOpener
	eng     Engine
	maxIdle int
	warnf   func(string, ...any)

	mu          sync.Mutex
	idle        []*Handle
	outstanding int
	closed      bool
}

// PoolStats is a diagnostic snapshot of a pool's bookkeeping.
type PoolStats struct {
	// Outstanding is the number of handles currently checked out.
	Outstanding int
	// Idle is the number of handles parked in the pool.
	Idle int
}

// NewPool creates a handle pool for one source identifier. No stream is
// opened until the first Acquire.
func NewPool(source string, opts Options) (*Pool, error) {
	if opts.Open == nil {
		return nil, errors.New("tiffremote: no stream opener provided")
	}
	if opts.Engine == nil {
		return nil, errors.New("tiffremote: no engine provided")
	}
	opts = opts.withDefaults()

	return &Pool{
		source:  source,
		open:    opts.Open,
		eng:     opts.Engine,
		maxIdle: opts.MaxIdleHandles,
		warnf:   opts.Warnf,
	}, nil
}

// Source returns the source identifier this pool serves.
func (p *Pool) Source() string { return p.source }

// Acquire returns an idle handle, or opens a new one when none is parked.
// Idle handles of a source are interchangeable; no re-probe happens on
// reuse, trading a small risk of reading a since-changed remote object for
// not re-paying the signature check. Neither does the engine's read path
// check, for that matter.
func (p *Pool) Acquire() (*Handle, error) {
	p.mu.Lock()
	p.outstanding++
	var h *Handle
	if n := len(p.idle); n > 0 {
		h = p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if h != nil {
		return h, nil
	}

	// Creation may block on network I/O and must not serialize unrelated
	// callers, so it happens outside the lock.
	h, err := openHandle(p.source, p.open, p.eng)
	if err != nil {
		p.mu.Lock()
		p.outstanding--
		p.mu.Unlock()
		return nil, err
	}
	return h, nil
}

// Release returns a handle to the idle set. If the idle set is full, or the
// pool has been closed, the handle is destroyed instead.
func (p *Pool) Release(h *Handle) {
	p.mu.Lock()
	p.outstanding--
	if !p.closed && len(p.idle) < p.maxIdle {
		p.idle = append(p.idle, h)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.destroy(h)
}

// Discard destroys a handle known to be in a bad state, such as after an
// I/O error mid-use. It never returns the handle to the idle set.
func (p *Pool) Discard(h *Handle) {
	p.mu.Lock()
	p.outstanding--
	p.mu.Unlock()
	p.destroy(h)
}

// Close destroys all idle handles and stops the pool from retaining more.
// Handles still checked out remain valid and are destroyed on Release.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, h := range idle {
		p.destroy(h)
	}
}

// Stats reports the pool's current bookkeeping. Diagnostic only; the values
// may be stale by the time the caller looks at them.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Outstanding: p.outstanding, Idle: len(p.idle)}
}

func (p *Pool) destroy(h *Handle) {
	if err := h.close(); err != nil {
		p.warnf("tiffremote: destroying handle for %q: %v", p.source, err)
	}
}
