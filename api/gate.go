// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package api

import (
	"sync"

	"github.com/juju/extdirect/rpc/params"
)

// apiState is the readiness state of a client. It only moves forward:
// uninitialized, pending, then ready or failed.
type apiState int

const (
	stateUninitialized apiState = iota
	statePending
	stateReady
	stateFailed
)

func (s apiState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case statePending:
		return "pending"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// settledFunc is run once the API descriptor is known, or once it is
// known that it cannot be had.
type settledFunc func(api *params.APIDescriptor, err error)

// gateConfig holds the collaborators of a gate.
type gateConfig struct {
	// API, if set, makes the gate ready from the start.
	API *params.APIDescriptor

	// Fetch retrieves the descriptor. It is called at most once.
	Fetch func() (*params.APIDescriptor, error)

	// Spawn runs a function on a new goroutine.
	Spawn func(func())

	// Settled is called once when the gate leaves the pending state,
	// before any queued work runs.
	Settled func(api *params.APIDescriptor, err error)

	Metrics *Collector
}

// gate holds work back until the API descriptor is available. Work
// submitted before then is queued, and started in submission order on
// the goroutine that fetched the descriptor. Queued functions must only
// start their work, not wait for it. Work submitted while that queue is
// still draining joins the back of it, so that nothing submitted later
// can overtake queued work.
type gate struct {
	cfg gateConfig

	mu       sync.Mutex
	state    apiState
	api      *params.APIDescriptor
	err      error
	queue    []settledFunc
	draining bool
}

func newGate(cfg gateConfig) *gate {
	g := &gate{cfg: cfg}
	if cfg.API != nil {
		g.state = stateReady
		g.api = cfg.API
	}
	cfg.Metrics.stateChanged(g.state, g.state)
	return g
}

// ensureReady arranges for onSettled to run once the descriptor has been
// resolved, starting the retrieval if nobody has yet. onSettled never
// runs on the calling goroutine. A nil onSettled only starts the
// retrieval.
func (g *gate) ensureReady(onSettled settledFunc) {
	g.mu.Lock()
	switch {
	case g.state == stateUninitialized:
		g.setStateLocked(statePending)
		g.enqueueLocked(onSettled)
		g.mu.Unlock()
		g.cfg.Spawn(g.bootstrap)
		return
	case g.state == statePending || g.draining:
		g.enqueueLocked(onSettled)
		g.mu.Unlock()
		return
	}
	api, err := g.api, g.err
	g.mu.Unlock()
	if onSettled != nil {
		g.cfg.Spawn(func() { onSettled(api, err) })
	}
}

// status returns the current state, the descriptor once ready, and the
// sticky error once failed.
func (g *gate) status() (apiState, *params.APIDescriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.api, g.err
}

// queued returns the number of entries waiting in the queue.
func (g *gate) queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

func (g *gate) bootstrap() {
	api, err := g.cfg.Fetch()

	g.mu.Lock()
	if err != nil {
		g.err = err
		g.setStateLocked(stateFailed)
	} else {
		g.api = api
		g.setStateLocked(stateReady)
	}
	g.draining = true
	g.mu.Unlock()

	if g.cfg.Settled != nil {
		g.cfg.Settled(api, err)
	}
	for {
		g.mu.Lock()
		if len(g.queue) == 0 {
			g.draining = false
			g.mu.Unlock()
			return
		}
		next := g.queue[0]
		g.queue[0] = nil
		g.queue = g.queue[1:]
		g.mu.Unlock()

		g.cfg.Metrics.queueChanged(-1)
		next(api, err)
	}
}

func (g *gate) enqueueLocked(f settledFunc) {
	if f == nil {
		return
	}
	g.queue = append(g.queue, f)
	g.cfg.Metrics.queueChanged(1)
}

func (g *gate) setStateLocked(state apiState) {
	logger.Debugf("API state %v -> %v", g.state, state)
	g.cfg.Metrics.stateChanged(g.state, state)
	g.state = state
}
