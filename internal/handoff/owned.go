// Package handoff models single-owner transfer of large buffers between
// concurrent stages.
//
// A value wrapped in Owned can be taken exactly once. After Take, the wrapper
// is invalid and every further Take fails with ErrMoved, so a stage that has
// handed a buffer on cannot keep reading it by accident.
package handoff

import (
	"errors"
	"sync"
)

// ErrMoved is returned when a value has already been taken or released.
var ErrMoved = errors.New("handoff: value already moved")

// Owned holds a value until it is taken.
type Owned[T any] struct {
	mu    sync.Mutex
	v     T
	valid bool
}

// Give wraps v. The caller must not use v after this call.
func Give[T any](v T) *Owned[T] {
	return &Owned[T]{v: v, valid: true}
}

// Take moves the value out of the wrapper.
func (o *Owned[T]) Take() (T, error) {
	var zero T
	if o == nil {
		return zero, ErrMoved
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.valid {
		return zero, ErrMoved
	}
	v := o.v
	o.v = zero
	o.valid = false
	return v, nil
}

// Valid reports whether the value is still held.
func (o *Owned[T]) Valid() bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.valid
}

// Release drops the value without handing it on.
func (o *Owned[T]) Release() {
	if o == nil {
		return
	}
	o.mu.Lock()
	var zero T
	o.v = zero
	o.valid = false
	o.mu.Unlock()
}
