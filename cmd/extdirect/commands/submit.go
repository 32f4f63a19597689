// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"sort"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/extdirect/api"
	"github.com/juju/extdirect/cmd"
	"github.com/juju/extdirect/rpc"
)

const submitDoc = `
Submit a form to a form handler method. Fields are given as name=value
pairs; files are attached with --upload field=path.

Examples:

    extdirect submit Profile.save name=Ann email=ann@example.com
    extdirect submit Files.store --upload photo=./cat.jpg
`

type submitCommand struct {
	clientCommand
	out cmd.Output

	uploads cmd.KeyValues
	action  string
	method  string
	fields  map[string]string
}

func newSubmitCommand() cmd.Command {
	return &submitCommand{}
}

// Info is part of the cmd.Command interface.
func (c *submitCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "submit",
		Args:    "<Action.method> [<field>=<value> ...]",
		Purpose: "Submit a form, with optional file uploads.",
		Doc:     submitDoc,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *submitCommand) SetFlags(f *gnuflag.FlagSet) {
	c.clientCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
	f.Var(&c.uploads, "upload", "File to upload, as field=path (repeatable)")
}

// Init is part of the cmd.Command interface.
func (c *submitCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no method specified")
	}
	action, method, err := splitTarget(args[0])
	if err != nil {
		return errors.Trace(err)
	}
	c.action, c.method = action, method
	if c.fields, err = cmd.ParseKeyValues(args[1:]); err != nil {
		return errors.Trace(err)
	}
	if len(c.fields) == 0 && len(c.uploads) == 0 {
		return errors.New("no fields or uploads specified")
	}
	return nil
}

// Run is part of the cmd.Command interface.
func (c *submitCommand) Run(ctx *cmd.Context) error {
	client, _, err := c.newClient(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	defer client.Close()

	p := api.SubmitParams{
		Action: c.action,
		Method: c.method,
		Signal: api.NewSignal(),
	}
	if len(c.fields) > 0 {
		p.Args = make(map[string]interface{}, len(c.fields))
		for k, v := range c.fields {
			p.Args[k] = v
		}
	}
	fields := make([]string, 0, len(c.uploads))
	for field := range c.uploads {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		p.Uploads = append(p.Uploads, rpc.Upload{
			Field: field,
			Path:  ctx.AbsPath(c.uploads[field]),
		})
	}
	if err := client.Submit(p, nil); err != nil {
		return errors.Trace(err)
	}
	result, err := wait(ctx, p.Signal)
	if err != nil {
		return errors.Trace(err)
	}
	return c.out.Write(ctx, plain(result))
}
