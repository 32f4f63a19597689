// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package api

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/extdirect/rpc"
)

// Signal lets a caller wait for one or more outstanding operations. It
// is handed to any number of calls; each of them notifies it exactly once,
// after its callback has returned, with the same result the callback saw.
// Wait returns when every operation the signal was handed to has
// completed.
//
// The zero value is ready to use. A Signal must not be copied after
// first use.
type Signal struct {
	mu      sync.Mutex
	pending int
	results []rpc.Result
	done    chan struct{}
}

// NewSignal returns a new Signal.
func NewSignal() *Signal {
	return &Signal{}
}

// begin records a new outstanding operation.
func (s *Signal) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == 0 || s.done == nil {
		s.done = make(chan struct{})
	}
	s.pending++
}

// notify records the completion of an operation.
func (s *Signal) notify(res rpc.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	if s.pending == 0 {
		logger.Warningf("signal notified more often than it was used")
		return
	}
	s.pending--
	if s.pending == 0 {
		close(s.done)
	}
}

// Done returns a channel that is closed when no operation using the
// signal is outstanding.
func (s *Signal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
		close(s.done)
	}
	return s.done
}

// Pending returns the number of outstanding operations.
func (s *Signal) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Results returns the results delivered so far, in completion order.
func (s *Signal) Results() []rpc.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]rpc.Result, len(s.results))
	copy(results, s.results)
	return results
}

// Wait blocks until no operation using the signal is outstanding, or
// until the context is done. It returns the results delivered so far.
func (s *Signal) Wait(ctx context.Context) ([]rpc.Result, error) {
	select {
	case <-s.Done():
		return s.Results(), nil
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}
