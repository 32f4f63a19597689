// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cmdtesting holds helpers for testing commands.
package cmdtesting

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/juju/gnuflag"
	gc "gopkg.in/check.v1"

	"github.com/juju/extdirect/cmd"
)

// Context returns a command context with buffered streams, rooted in a
// fresh temporary directory.
func Context(c *gc.C) *cmd.Context {
	return &cmd.Context{
		Context: context.Background(),
		Dir:     c.MkDir(),
		Stdin:   &bytes.Buffer{},
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
	}
}

// NullContext returns a no-op command context.
func NullContext(c *gc.C) *cmd.Context {
	return &cmd.Context{
		Context: context.Background(),
		Dir:     c.MkDir(),
		Stdin:   io.LimitReader(nil, 0),
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
}

// Stdout returns what was written to ctx.Stdout.
func Stdout(ctx *cmd.Context) string {
	return ctx.Stdout.(*bytes.Buffer).String()
}

// Stderr returns what was written to ctx.Stderr.
func Stderr(ctx *cmd.Context) string {
	return ctx.Stderr.(*bytes.Buffer).String()
}

// InitCommand parses args into com.
func InitCommand(com cmd.Command, args []string) error {
	f := gnuflag.NewFlagSet(com.Info().Name, gnuflag.ContinueOnError)
	f.SetOutput(io.Discard)
	com.SetFlags(f)
	if err := f.Parse(true, args); err != nil {
		return err
	}
	return com.Init(f.Args())
}

// RunCommand runs com with the given arguments in a new test context,
// and returns the context so that its output can be checked.
func RunCommand(c *gc.C, com cmd.Command, args ...string) (*cmd.Context, error) {
	if err := InitCommand(com, args); err != nil {
		return nil, err
	}
	ctx := Context(c)
	return ctx, com.Run(ctx)
}

// HelpText returns a command's formatted help text.
func HelpText(com cmd.Command) string {
	var buf bytes.Buffer
	cmd.PrintUsage(&buf, com)
	return strings.TrimSpace(buf.String())
}
