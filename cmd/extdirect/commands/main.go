// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package commands implements the extdirect command line tool.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"

	"github.com/juju/extdirect/cmd"
)

const extdirectDoc = `
extdirect talks to an Ext.Direct style router over HTTP. It retrieves
the router's API descriptor, calls remote methods, submits forms and
polls for events.

Log levels can be set with --logging-config or with the
EXTDIRECT_LOGGING_CONFIG environment variable. Request spans are
exported over OTLP when EXTDIRECT_TRACE_ENDPOINT is set.
`

// NewExtDirectCommand returns the extdirect super command with every
// subcommand registered.
func NewExtDirectCommand() *cmd.SuperCommand {
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "extdirect",
		Purpose: "Talk to an Ext.Direct router.",
		Doc:     extdirectDoc,
		Log: &cmd.Log{
			DefaultConfig: os.Getenv(cmd.LoggingConfigEnvKey),
		},
	})
	super.Register(newAPICommand())
	super.Register(newCallCommand())
	super.Register(newSubmitCommand())
	super.Register(newPollCommand())
	return super
}

// Main runs the extdirect command with the process's streams. The
// context it runs in is cancelled on SIGINT or SIGTERM.
func Main(args []string) (int, error) {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		return 2, errors.Trace(err)
	}
	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx.Context = sigCtx
	if endpoint := os.Getenv(TraceEndpointEnvKey); endpoint != "" {
		shutdown, err := startTracing(sigCtx, endpoint, os.Getenv(TraceInsecureEnvKey) != "")
		if err != nil {
			return 1, errors.Trace(err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), traceFlushTimeout)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warningf("flushing traces: %v", err)
			}
		}()
	}
	return cmd.Main(NewExtDirectCommand(), ctx, args), nil
}

// traceFlushTimeout bounds the export of pending spans on exit.
const traceFlushTimeout = 5 * time.Second

// contextOf returns the context a command runs in.
func contextOf(ctx *cmd.Context) context.Context {
	if ctx.Context == nil {
		return context.Background()
	}
	return ctx.Context
}
