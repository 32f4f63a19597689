// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cmd provides the command framework used by the extdirect
// command line tool.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("extdirect.cmd")

// ErrSilent can be returned from Run to signal that the command has
// already reported its failure.
const ErrSilent = errors.ConstError("cmd: error out silently")

// Info holds everything necessary to describe a Command's intent and usage.
type Info struct {
	// Name is the Command's name.
	Name string

	// Args describes the command's expected positional arguments.
	Args string

	// Purpose is a short explanation of the Command's purpose.
	Purpose string

	// Doc is the long documentation for the Command.
	Doc string
}

// Usage combines Name and Args to describe the Command's intended usage.
func (i *Info) Usage() string {
	if i.Args == "" {
		return i.Name
	}
	return fmt.Sprintf("%s %s", i.Name, i.Args)
}

// Command is implemented by types that interpret command-line arguments.
type Command interface {
	// Info returns information about the command.
	Info() *Info

	// SetFlags adds command specific flags to the flag set.
	SetFlags(f *gnuflag.FlagSet)

	// Init initializes the command from the positional arguments left
	// after flag parsing.
	Init(args []string) error

	// Run will execute the command according to the options and
	// positional arguments interpreted by a call to Init.
	Run(ctx *Context) error
}

// CommandBase provides the default implementation of SetFlags and
// Init for commands without flags or arguments.
type CommandBase struct{}

// SetFlags is part of the Command interface.
func (*CommandBase) SetFlags(*gnuflag.FlagSet) {}

// Init is part of the Command interface.
func (*CommandBase) Init(args []string) error {
	return CheckEmpty(args)
}

// Context represents the run context of a Command. Command
// implementations should interpret file names relative to Dir and use
// the streams rather than the os ones.
type Context struct {
	context.Context

	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultContext returns a Context suitable for use in non-hosted
// situations.
func DefaultContext() (*Context, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, errors.Trace(err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Context{
		Context: context.Background(),
		Dir:     abs,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, nil
}

// AbsPath returns an absolute representation of path, with relative
// paths interpreted relative to ctx.Dir.
func (ctx *Context) AbsPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ctx.Dir, path)
}

// Infof writes a message to Stderr.
func (ctx *Context) Infof(format string, args ...interface{}) {
	fmt.Fprintf(ctx.Stderr, format+"\n", args...)
}

// NewFlagSet returns a FlagSet initialized for use with c. Parse errors
// are returned rather than printed.
func NewFlagSet(c Command) *gnuflag.FlagSet {
	f := gnuflag.NewFlagSet(c.Info().Name, gnuflag.ContinueOnError)
	f.SetOutput(io.Discard)
	f.Usage = func() {}
	c.SetFlags(f)
	return f
}

// PrintUsage prints usage information for c to w.
func PrintUsage(w io.Writer, c Command) {
	i := c.Info()
	fmt.Fprintf(w, "Usage: %s\n", i.Usage())
	if i.Purpose != "" {
		fmt.Fprintf(w, "\nSummary:\n%s\n", i.Purpose)
	}
	f := gnuflag.NewFlagSet(i.Name, gnuflag.ContinueOnError)
	c.SetFlags(f)
	var options strings.Builder
	f.SetOutput(&options)
	f.PrintDefaults()
	if options.Len() > 0 {
		fmt.Fprintf(w, "\nOptions:\n%s", options.String())
	}
	if i.Doc != "" {
		fmt.Fprintf(w, "\nDetails:\n%s\n", strings.TrimSpace(i.Doc))
	}
}

// CheckEmpty is a utility function that returns an error if args is not
// empty.
func CheckEmpty(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %q", args)
	}
	return nil
}

// Main parses args into c, runs it and returns the exit code: 0 on
// success, 1 when Run fails and 2 when the arguments are invalid.
func Main(c Command, ctx *Context, args []string) int {
	f := NewFlagSet(c)
	if err := f.Parse(false, args); err != nil {
		if err == gnuflag.ErrHelp {
			PrintUsage(ctx.Stdout, c)
			return 0
		}
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		return 2
	}
	if err := c.Init(f.Args()); err != nil {
		if err == gnuflag.ErrHelp {
			if sc, ok := c.(*SuperCommand); ok && sc.Selected() != nil {
				PrintUsage(ctx.Stdout, sc.Selected())
			} else {
				PrintUsage(ctx.Stdout, c)
			}
			return 0
		}
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		return 2
	}
	if err := c.Run(ctx); err != nil {
		if errors.Is(err, ErrSilent) {
			return 1
		}
		logger.Debugf("error stack: \n%v", errors.ErrorStack(err))
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		return 1
	}
	return 0
}
