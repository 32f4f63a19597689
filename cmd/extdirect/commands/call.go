// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/extdirect/api"
	"github.com/juju/extdirect/cmd"
)

const callDoc = `
Call a remote method and show its result. Positional values are sent as
ordered arguments; --arg sends named arguments instead. Each value is
parsed as JSON when possible, and sent as a string otherwise.

Examples:

    extdirect call Demo.echo '"hello"'
    extdirect call Demo.add 1 2
    extdirect call Users.find --arg id=42 --format json
`

type callCommand struct {
	clientCommand
	out cmd.Output

	named  cmd.KeyValues
	action string
	method string
	args   []interface{}
}

func newCallCommand() cmd.Command {
	return &callCommand{}
}

// Info is part of the cmd.Command interface.
func (c *callCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "call",
		Args:    "<Action.method> [<value> ...]",
		Purpose: "Call a remote method.",
		Doc:     callDoc,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *callCommand) SetFlags(f *gnuflag.FlagSet) {
	c.clientCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
	f.Var(&c.named, "arg", "Named argument, as name=value (repeatable)")
}

// Init is part of the cmd.Command interface.
func (c *callCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no method specified")
	}
	action, method, err := splitTarget(args[0])
	if err != nil {
		return errors.Trace(err)
	}
	c.action, c.method = action, method
	if len(c.named) > 0 && len(args) > 1 {
		return errors.New("cannot mix ordered and named arguments")
	}
	c.args = make([]interface{}, 0, len(args)-1)
	for _, arg := range args[1:] {
		c.args = append(c.args, parseValue(arg))
	}
	return nil
}

// Run is part of the cmd.Command interface.
func (c *callCommand) Run(ctx *cmd.Context) error {
	client, _, err := c.newClient(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	defer client.Close()

	p := api.CallParams{
		Action: c.action,
		Method: c.method,
		Signal: api.NewSignal(),
	}
	if len(c.named) > 0 {
		p.NamedArgs = make(map[string]interface{}, len(c.named))
		for k, v := range c.named {
			p.NamedArgs[k] = parseValue(v)
		}
	} else {
		p.Args = c.args
	}
	if err := client.Call(p, nil); err != nil {
		return errors.Trace(err)
	}
	result, err := wait(ctx, p.Signal)
	if err != nil {
		return errors.Trace(err)
	}
	return c.out.Write(ctx, plain(result))
}
