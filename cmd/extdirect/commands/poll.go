// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"encoding/json"
	"io"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/worker/v4"

	"github.com/juju/extdirect/cmd"
	"github.com/juju/extdirect/poller"
	"github.com/juju/extdirect/rpc/params"
)

const pollDoc = `
Poll the router for events and show them. With --follow, keep polling
until interrupted, waiting --interval (or the settings file's
poll-interval) between polls.

Examples:

    extdirect poll
    extdirect poll --follow --interval 10s --format tabular
`

type pollCommand struct {
	clientCommand
	out cmd.Output

	follow   bool
	interval time.Duration
	clock    clock.Clock
}

func newPollCommand() cmd.Command {
	return &pollCommand{clock: clock.WallClock}
}

// Info is part of the cmd.Command interface.
func (c *pollCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "poll",
		Purpose: "Poll the router for events.",
		Doc:     pollDoc,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *pollCommand) SetFlags(f *gnuflag.FlagSet) {
	c.clientCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", map[string]cmd.Formatter{
		"yaml":    cmd.FormatYaml,
		"json":    cmd.FormatJson,
		"tabular": formatEventsTabular,
	})
	f.BoolVar(&c.follow, "follow", false, "Keep polling until interrupted")
	f.DurationVar(&c.interval, "interval", 0, "Delay between polls when following")
}

// Init is part of the cmd.Command interface.
func (c *pollCommand) Init(args []string) error {
	if c.interval < 0 {
		return errors.NotValidf("negative interval")
	}
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *pollCommand) Run(ctx *cmd.Context) error {
	client, settings, err := c.newClient(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	defer client.Close()

	interval := c.interval
	if interval == 0 {
		interval = settings.PollInterval
	}
	w, err := poller.New(poller.Config{
		Client:   client,
		Clock:    c.clock,
		Interval: interval,
		Once:     !c.follow,
		Handler: poller.HandlerFunc(func(events []params.Event) error {
			return c.out.Write(ctx, newEventViews(events))
		}),
	})
	if err != nil {
		return errors.Trace(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- w.Wait()
	}()
	select {
	case err := <-done:
		return errors.Trace(err)
	case <-contextOf(ctx).Done():
		logger.Debugf("interrupted, stopping poller")
		return errors.Trace(worker.Stop(w))
	}
}

type eventView struct {
	Name string      `yaml:"name" json:"name"`
	Data interface{} `yaml:"data,omitempty" json:"data,omitempty"`
}

func newEventViews(events []params.Event) []eventView {
	views := make([]eventView, len(events))
	for i, ev := range events {
		views[i] = eventView{Name: ev.Name, Data: plain(ev.Data)}
	}
	return views
}

func formatEventsTabular(w io.Writer, value interface{}) error {
	events, ok := value.([]eventView)
	if !ok {
		return errors.Errorf("expected value of type %T, got %T", events, value)
	}
	table := cmd.NewTable()
	table.AddRow("Event", "Data")
	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return errors.Trace(err)
		}
		table.AddRow(ev.Name, string(data))
	}
	return cmd.WriteTable(w, table)
}
