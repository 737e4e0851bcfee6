// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package exchange implements a rendezvous point where the members of a group meet to exchange one value each.
//
// Each collective call is identified by a key (the group name plus a per-group sequence number): members
// calling Exchange with the same key block until all of them have contributed, and then each receives all
// the values, in member order.
package exchange

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// ErrMismatch is returned when the members calling Exchange with the same key disagree on the operation or
// the size of the group, or when a member index is invalid or repeated.
var ErrMismatch = errors.New("mismatched exchange")

// slot holds the values of one exchange while members arrive.
type slot[T any] struct {
	op      string
	values  []T
	present []bool
	arrived int
	read    int
	done    chan struct{}
	err     error
}

// Hub matches the Exchange calls of the members of groups. It is safe for concurrent use.
type Hub[T any] struct {
	mu    sync.Mutex
	slots map[string]*slot[T]
}

// NewHub creates an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{slots: make(map[string]*slot[T])}
}

// Exchange contributes value as member index of a group of the given size, for the exchange identified by key.
// It blocks until all members contributed, and returns all values ordered by member index.
//
// op names the collective operation: members must agree on it, otherwise all of them fail with ErrMismatch.
// If ctx is cancelled before the exchange completes, the exchange is aborted for all its members.
func (h *Hub[T]) Exchange(ctx context.Context, key, op string, size, index int, value T) ([]T, error) {
	if size <= 0 || index < 0 || index >= size {
		return nil, errors.Wrapf(ErrMismatch, "exchange %q: invalid member index %d for group of size %d", key, index, size)
	}

	h.mu.Lock()
	s, found := h.slots[key]
	if !found {
		s = &slot[T]{
			op:      op,
			values:  make([]T, size),
			present: make([]bool, size),
			done:    make(chan struct{}),
		}
		h.slots[key] = s
	}
	switch {
	case s.err != nil:
		// Already aborted, the error is returned below.
	case s.op != op:
		h.lockedAbort(key, s, errors.Wrapf(ErrMismatch, "exchange %q: operation %q doesn't match %q", key, op, s.op))
	case len(s.values) != size:
		h.lockedAbort(key, s, errors.Wrapf(ErrMismatch, "exchange %q: group size %d doesn't match %d",
			key, size, len(s.values)))
	case s.present[index]:
		h.lockedAbort(key, s, errors.Wrapf(ErrMismatch, "exchange %q: member %d contributed twice", key, index))
	default:
		s.values[index] = value
		s.present[index] = true
		s.arrived++
		if s.arrived == size {
			close(s.done)
		}
	}
	h.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		h.mu.Lock()
		if s.err == nil && s.arrived < len(s.values) {
			h.lockedAbort(key, s, errors.Wrapf(ctx.Err(), "exchange %q cancelled", key))
		}
		h.mu.Unlock()
		<-s.done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.read++
	if s.read == len(s.values) && h.slots[key] == s {
		delete(h.slots, key)
	}
	return slices.Clone(s.values), nil
}

// lockedAbort fails the exchange for all its members. It must be called with h.mu locked.
func (h *Hub[T]) lockedAbort(key string, s *slot[T], err error) {
	if s.err != nil {
		return
	}
	s.err = err
	if s.arrived < len(s.values) {
		close(s.done)
	}
	// The aborted slot is kept, so members arriving later fail immediately instead of waiting forever.
	h.slots[key] = s
}

// Pending returns the number of exchanges that haven't been read by all their members yet, including
// aborted ones.
func (h *Hub[T]) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.slots)
}
