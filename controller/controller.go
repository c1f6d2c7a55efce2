// Package controller provides a small shared pause/resume gate used by a
// PollStream and WorkerLoop: any clone of a Controller sees the same
// paused state, so an operator hook (signal, admin call, test) can halt
// polling without tearing down the stream.
package controller

import "sync/atomic"

// Controller gates whether a poller is allowed to fetch work. Use New to
// construct one; the zero value has no backing flag and must not be used.
type Controller struct {
	paused *atomic.Bool
}

// New returns a Controller in the running (not paused) state.
func New() Controller {
	return Controller{paused: &atomic.Bool{}}
}

// Clone returns a Controller sharing the same underlying pause flag: calling
// Pause/Resume on either affects both.
func (c Controller) Clone() Controller {
	return Controller{paused: c.paused}
}

// Pause halts future polling until Resume is called.
func (c Controller) Pause() {
	c.paused.Store(true)
}

// Resume clears a prior Pause.
func (c Controller) Resume() {
	c.paused.Store(false)
}

// IsPaused reports the current gate state.
func (c Controller) IsPaused() bool {
	return c.paused.Load()
}
