// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package poller provides a worker that polls a router for events on an
// interval and hands them to a handler.
package poller

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"github.com/juju/extdirect/api"
	"github.com/juju/extdirect/rpc"
	"github.com/juju/extdirect/rpc/params"
)

var logger = loggo.GetLogger("extdirect.poller")

// Client is the part of api.Client used by the worker.
type Client interface {
	Poll(api.PollParams, api.Callback) error
}

// EventHandler receives the events returned by each non-empty poll.
type EventHandler interface {
	HandleEvents([]params.Event) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func([]params.Event) error

// HandleEvents is part of EventHandler.
func (f HandlerFunc) HandleEvents(events []params.Event) error {
	return f(events)
}

// Config defines the operation of a Worker.
type Config struct {
	Client   Client
	Handler  EventHandler
	Clock    clock.Clock
	Interval time.Duration

	// Cookies and Options are passed with every poll.
	Cookies map[string]string
	Options rpc.Options

	// Once stops the worker after the first poll. A failed poll is
	// then returned from Wait rather than retried.
	Once bool
}

// Validate returns an error if config cannot drive a Worker.
func (config Config) Validate() error {
	if config.Client == nil {
		return errors.NotValidf("nil Client")
	}
	if config.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Interval <= 0 {
		return errors.NotValidf("non-positive Interval")
	}
	return nil
}

var _ worker.Worker = (*Worker)(nil)

// Worker polls for events until it is killed, the handler fails or the
// client's API becomes unavailable. A failed poll is logged and retried
// after the interval.
type Worker struct {
	tomb   tomb.Tomb
	config Config
}

// New starts a Worker.
func New(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{config: config}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.tomb.Wait()
}

func (w *Worker) loop() error {
	for {
		err := w.poll()
		if err == tomb.ErrDying {
			return err
		} else if err != nil {
			return errors.Trace(err)
		}
		if w.config.Once {
			return nil
		}
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case <-w.config.Clock.After(w.config.Interval):
		}
	}
}

// poll runs a single poll and delivers its events.
func (w *Worker) poll() error {
	sig := api.NewSignal()
	err := w.config.Client.Poll(api.PollParams{
		Cookies: w.config.Cookies,
		Options: w.config.Options,
		Signal:  sig,
	}, nil)
	if err != nil {
		return errors.Trace(err)
	}
	select {
	case <-w.tomb.Dying():
		return tomb.ErrDying
	case <-sig.Done():
	}

	res := sig.Results()[0]
	if !res.Success {
		if w.config.Once || errors.Is(res.Err, api.ErrAPIUnavailable) {
			return errors.Trace(res.Err)
		}
		logger.Warningf("poll failed: %v", res.Err)
		return nil
	}
	events, _ := res.Value.([]params.Event)
	if len(events) == 0 {
		logger.Tracef("no events")
		return nil
	}
	logger.Debugf("received %d events", len(events))
	if err := w.config.Handler.HandleEvents(events); err != nil {
		return errors.Annotate(err, "handling events")
	}
	return nil
}
