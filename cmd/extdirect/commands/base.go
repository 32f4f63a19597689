// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/juju/proxy"

	"github.com/juju/extdirect/api"
	"github.com/juju/extdirect/cmd"
	"github.com/juju/extdirect/config"
	"github.com/juju/extdirect/rpc"
	"github.com/juju/extdirect/rpc/httptransport"
)

var logger = loggo.GetLogger("extdirect.cmd.extdirect")

// clientCommand holds the flags shared by every command that talks to a
// router.
type clientCommand struct {
	cmd.CommandBase

	host       string
	port       int
	scheme     string
	configFile cmd.FileVar
	cookieFile string
	cookies    cmd.KeyValues
	options    cmd.KeyValues
	timeout    time.Duration
	proxy      string
	noProxy    string
}

// SetFlags is part of the cmd.Command interface.
func (c *clientCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.host, "host", "localhost", "Router host name")
	f.IntVar(&c.port, "port", api.DefaultPort, "Router port")
	f.StringVar(&c.scheme, "scheme", "http", "URL scheme (http|https)")
	f.Var(&c.configFile, "config", "Path to a YAML settings file")
	f.StringVar(&c.cookieFile, "cookie-file", "", "Keep session cookies in this file (default $"+httptransport.CookieFileEnvKey+")")
	f.Var(&c.cookies, "cookie", "Cookie sent with every request, as name=value (repeatable)")
	f.Var(&c.options, "option", "Transport option, as key=value (repeatable)")
	f.DurationVar(&c.timeout, "timeout", 0, "Request timeout, overriding the settings file")
	f.StringVar(&c.proxy, "proxy", "", "HTTP(S) proxy URL, overriding the proxy environment variables")
	f.StringVar(&c.noProxy, "no-proxy", "", "Comma separated hosts to reach without the proxy")
}

// proxySettings returns the proxies given on the command line, or nil
// to use those from the environment.
func (c *clientCommand) proxySettings() *proxy.Settings {
	if c.proxy == "" && c.noProxy == "" {
		return nil
	}
	return &proxy.Settings{
		Http:    c.proxy,
		Https:   c.proxy,
		NoProxy: c.noProxy,
	}
}

// settings returns the client settings from --config, or the defaults.
func (c *clientCommand) settings(ctx *cmd.Context) (*config.Config, error) {
	settings := config.Default()
	if c.configFile.IsSet() {
		data, err := c.configFile.Read(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if settings, err = config.Parse(data); err != nil {
			return nil, errors.Annotatef(err, "reading %s", c.configFile.Path)
		}
	}
	if c.timeout > 0 {
		settings.Timeout = c.timeout
	}
	return settings, nil
}

func (c *clientCommand) cookieFilePath(ctx *cmd.Context) string {
	if c.cookieFile != "" {
		return ctx.AbsPath(c.cookieFile)
	}
	if os.Getenv(httptransport.CookieFileEnvKey) != "" {
		return httptransport.CookieFile()
	}
	return ""
}

// newClient returns a client configured from the command line. The
// caller must close it.
func (c *clientCommand) newClient(ctx *cmd.Context, signal *api.Signal) (*api.Client, *config.Config, error) {
	settings, err := c.settings(ctx)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	var options rpc.Options
	for k, v := range c.options {
		if options == nil {
			options = make(rpc.Options)
		}
		options[k] = v
	}
	client, err := api.NewClient(api.Config{
		Host:       c.host,
		Port:       c.port,
		Scheme:     c.scheme,
		Settings:   settings,
		Signal:     signal,
		Cookies:    c.cookies,
		Options:    options,
		Proxy:      c.proxySettings(),
		CookieFile: c.cookieFilePath(ctx),
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	logger.Debugf("talking to %s as client %s", client.Addr(), client.ID())
	return client, settings, nil
}

// wait waits for the single operation signal was handed to, and
// returns its value.
func wait(ctx *cmd.Context, signal *api.Signal) (interface{}, error) {
	results, err := signal.Wait(contextOf(ctx))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(results) == 0 {
		return nil, errors.New("no result delivered")
	}
	res := results[len(results)-1]
	if !res.Success {
		return nil, errors.Trace(res.Err)
	}
	return res.Value, nil
}

// splitTarget splits an Action.method argument.
func splitTarget(arg string) (string, string, error) {
	i := strings.LastIndex(arg, ".")
	if i <= 0 || i == len(arg)-1 {
		return "", "", errors.NotValidf("target %q (expected Action.method)", arg)
	}
	return arg[:i], arg[i+1:], nil
}

// parseValue interprets a command line value as JSON, falling back to
// the plain string.
func parseValue(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// plain converts the json.Number values in a decoded result so that
// they format as numbers in every output format.
func plain(v interface{}) interface{} {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = plain(item)
		}
		return out
	}
	return v
}
