// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
)

// defaultWriter is the loggo writer that Log.Start replaces.
const defaultWriter = "default"

// LoggingConfigEnvKey holds the default logging configuration.
const LoggingConfigEnvKey = "EXTDIRECT_LOGGING_CONFIG"

// Log supplies the logging flags of a SuperCommand.
type Log struct {
	// DefaultConfig is used when --logging-config is not given.
	DefaultConfig string

	Config  string
	Verbose bool
	Debug   bool
}

// AddFlags adds the logging flags to f.
func (l *Log) AddFlags(f *gnuflag.FlagSet) {
	f.StringVar(&l.Config, "logging-config", l.DefaultConfig, "specify log levels for modules")
	f.BoolVar(&l.Verbose, "verbose", false, "show more verbose output")
	f.BoolVar(&l.Debug, "debug", false, "equivalent to --logging-config=<root>=DEBUG")
}

// Start configures the loggers and sends their output to ctx.Stderr.
func (l *Log) Start(ctx *Context) error {
	level := "WARNING"
	if l.Verbose {
		level = "INFO"
	}
	if l.Debug {
		level = "DEBUG"
	}
	loggo.DefaultContext().ResetLoggerLevels()
	if err := loggo.ConfigureLoggers("<root>=" + level); err != nil {
		return errors.Trace(err)
	}
	if err := loggo.ConfigureLoggers(l.Config); err != nil {
		return errors.Annotate(err, "invalid logging configuration")
	}
	// The default writer may already have been removed.
	_, _ = loggo.RemoveWriter(defaultWriter)
	err := loggo.RegisterWriter(defaultWriter, loggo.NewSimpleWriter(ctx.Stderr, loggo.DefaultFormatter))
	return errors.Trace(err)
}

// SuperCommandParams configures a SuperCommand.
type SuperCommandParams struct {
	Name    string
	Purpose string
	Doc     string

	// Log holds the logging flags. If it is nil, no logging flags are
	// configured.
	Log *Log
}

// SuperCommand is a Command that selects a subcommand and runs it. Any
// arguments not used in selecting the subcommand are passed down to it.
type SuperCommand struct {
	CommandBase

	name    string
	purpose string
	doc     string
	log     *Log

	subcmds map[string]Command
	subcmd  Command
}

// NewSuperCommand returns a SuperCommand with no subcommands registered.
func NewSuperCommand(params SuperCommandParams) *SuperCommand {
	return &SuperCommand{
		name:    params.Name,
		purpose: params.Purpose,
		doc:     params.Doc,
		log:     params.Log,
		subcmds: make(map[string]Command),
	}
}

// Register makes a subcommand available for use on the command line.
func (c *SuperCommand) Register(subcmd Command) {
	name := subcmd.Info().Name
	if _, found := c.subcmds[name]; found {
		panic(fmt.Sprintf("command already registered: %q", name))
	}
	c.subcmds[name] = subcmd
}

// Info is part of the Command interface.
func (c *SuperCommand) Info() *Info {
	if c.subcmd != nil {
		info := *c.subcmd.Info()
		info.Name = fmt.Sprintf("%s %s", c.name, info.Name)
		return &info
	}
	return &Info{
		Name:    c.name,
		Args:    "<command> ...",
		Purpose: c.purpose,
		Doc:     c.describeCommands(),
	}
}

func (c *SuperCommand) describeCommands() string {
	names := make([]string, 0, len(c.subcmds))
	width := 0
	for name := range c.subcmds {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)
	doc := c.doc
	if doc != "" {
		doc += "\n\n"
	}
	doc += "Commands:"
	for _, name := range names {
		doc += fmt.Sprintf("\n    %-*s - %s", width, name, c.subcmds[name].Info().Purpose)
	}
	return doc
}

// SetFlags is part of the Command interface.
func (c *SuperCommand) SetFlags(f *gnuflag.FlagSet) {
	if c.log != nil {
		c.log.AddFlags(f)
	}
}

// Init selects the subcommand and parses its arguments.
func (c *SuperCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no command specified")
	}
	name, args := args[0], args[1:]
	subcmd, found := c.subcmds[name]
	if !found {
		return errors.Errorf("unrecognized command: %s %s", c.name, name)
	}
	c.subcmd = subcmd

	f := gnuflag.NewFlagSet(c.Info().Name, gnuflag.ContinueOnError)
	f.SetOutput(io.Discard)
	subcmd.SetFlags(f)
	if err := f.Parse(true, args); err == gnuflag.ErrHelp {
		return err
	} else if err != nil {
		return errors.Trace(err)
	}
	return subcmd.Init(f.Args())
}

// Selected returns the subcommand chosen by Init, or nil.
func (c *SuperCommand) Selected() Command {
	return c.subcmd
}

// Run is part of the Command interface.
func (c *SuperCommand) Run(ctx *Context) error {
	if c.subcmd == nil {
		return errors.New("no command specified")
	}
	if c.log != nil {
		if err := c.log.Start(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	logger.Debugf("running %s", c.Info().Name)
	err := c.subcmd.Run(ctx)
	if err != nil && !errors.Is(err, ErrSilent) {
		logger.Debugf("%s command failed: %v", c.Info().Name, err)
	}
	return err
}
