// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/naturalsort"

	"github.com/juju/extdirect/api"
	"github.com/juju/extdirect/cmd"
	"github.com/juju/extdirect/rpc/params"
)

const apiDoc = `
Retrieve the router's API descriptor and show the actions and methods it
exposes.

Examples:

    extdirect api --host example.com
    extdirect api --format tabular
`

type apiCommand struct {
	clientCommand
	out cmd.Output
}

func newAPICommand() cmd.Command {
	return &apiCommand{}
}

// Info is part of the cmd.Command interface.
func (c *apiCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "api",
		Purpose: "Show the router's API descriptor.",
		Doc:     apiDoc,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *apiCommand) SetFlags(f *gnuflag.FlagSet) {
	c.clientCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", map[string]cmd.Formatter{
		"yaml":    cmd.FormatYaml,
		"json":    cmd.FormatJson,
		"tabular": formatAPITabular,
	})
}

// Run is part of the cmd.Command interface.
func (c *apiCommand) Run(ctx *cmd.Context) error {
	signal := api.NewSignal()
	client, _, err := c.newClient(ctx, signal)
	if err != nil {
		return errors.Trace(err)
	}
	defer client.Close()

	if _, err := wait(ctx, signal); err != nil {
		return errors.Trace(err)
	}
	return c.out.Write(ctx, newAPIView(client.APIDescriptor()))
}

type apiView struct {
	URL       string                  `yaml:"url" json:"url"`
	PollURL   string                  `yaml:"poll-url,omitempty" json:"poll-url,omitempty"`
	Namespace string                  `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Actions   map[string][]methodView `yaml:"actions" json:"actions"`
}

type methodView struct {
	Name        string   `yaml:"name" json:"name"`
	Len         *int     `yaml:"len,omitempty" json:"len,omitempty"`
	Params      []string `yaml:"params,omitempty" json:"params,omitempty"`
	Strict      bool     `yaml:"strict,omitempty" json:"strict,omitempty"`
	FormHandler bool     `yaml:"form-handler,omitempty" json:"form-handler,omitempty"`
}

func newAPIView(d *params.APIDescriptor) apiView {
	view := apiView{
		URL:       d.URL,
		PollURL:   d.PollURL,
		Namespace: d.Namespace,
		Actions:   make(map[string][]methodView),
	}
	for action, methods := range d.Actions {
		views := make([]methodView, len(methods))
		for i, m := range methods {
			views[i] = methodView{
				Name:        m.Name,
				Len:         m.Len,
				Params:      m.Params,
				Strict:      m.Strict,
				FormHandler: m.FormHandler,
			}
		}
		view.Actions[action] = views
	}
	return view
}

func formatAPITabular(w io.Writer, value interface{}) error {
	view, ok := value.(apiView)
	if !ok {
		return errors.Errorf("expected value of type %T, got %T", view, value)
	}
	table := cmd.NewTable()
	table.AddRow("Action", "Method", "Arguments")
	actions := make([]string, 0, len(view.Actions))
	for action := range view.Actions {
		actions = append(actions, action)
	}
	naturalsort.Sort(actions)
	for _, action := range actions {
		for _, m := range view.Actions[action] {
			table.AddRow(action, m.Name, describeArgs(m))
		}
	}
	return cmd.WriteTable(w, table)
}

func describeArgs(m methodView) string {
	switch {
	case m.FormHandler:
		return "form"
	case m.Len != nil:
		return fmt.Sprintf("%d ordered", *m.Len)
	case m.Strict:
		return "named (" + strings.Join(m.Params, ", ") + ")"
	case len(m.Params) > 0:
		return "named, optional (" + strings.Join(m.Params, ", ") + ")"
	}
	return "named"
}
