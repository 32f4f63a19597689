// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config holds the settings shared by every client talking to
// one Ext.Direct router: where the descriptor, router and event
// endpoints live, and the request defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v2"
)

const (
	APIPathKey      = "api-path"
	RouterPathKey   = "router-path"
	PollPathKey     = "poll-path"
	TimeoutKey      = "timeout"
	KeepAliveKey    = "keepalive"
	UserAgentKey    = "user-agent"
	PollIntervalKey = "poll-interval"
)

const (
	DefaultAPIPath      = "/extdirectapi"
	DefaultRouterPath   = "/extdirectrouter"
	DefaultPollPath     = "/extdirectevents"
	DefaultTimeout      = 30 * time.Second
	DefaultUserAgent    = "extdirect-go"
	DefaultPollInterval = 3 * time.Second
)

// Config is the shared configuration object. The zero value is not
// valid; use Default or Parse.
type Config struct {
	// APIPath is where the API descriptor is fetched from.
	APIPath string

	// RouterPath is used for calls when the descriptor names no URL.
	RouterPath string

	// PollPath is used for polls when the descriptor publishes no
	// polling provider.
	PollPath string

	// Timeout bounds each request. Zero means no limit.
	Timeout time.Duration

	// KeepAlive enables persistent connections. It is off by default
	// since a reused connection may already have been closed by the
	// server when a non-idempotent call is sent on it.
	KeepAlive bool

	UserAgent string

	// PollInterval is the delay between polls made by a poller.
	PollInterval time.Duration
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		APIPath:      DefaultAPIPath,
		RouterPath:   DefaultRouterPath,
		PollPath:     DefaultPollPath,
		Timeout:      DefaultTimeout,
		UserAgent:    DefaultUserAgent,
		PollInterval: DefaultPollInterval,
	}
}

var fields = schema.Fields{
	APIPathKey:      schema.String(),
	RouterPathKey:   schema.String(),
	PollPathKey:     schema.String(),
	TimeoutKey:      schema.String(),
	KeepAliveKey:    schema.Bool(),
	UserAgentKey:    schema.String(),
	PollIntervalKey: schema.String(),
}

var defaults = schema.Defaults{
	APIPathKey:      DefaultAPIPath,
	RouterPathKey:   DefaultRouterPath,
	PollPathKey:     DefaultPollPath,
	TimeoutKey:      DefaultTimeout.String(),
	KeepAliveKey:    false,
	UserAgentKey:    DefaultUserAgent,
	PollIntervalKey: DefaultPollInterval.String(),
}

var checker = schema.FieldMap(fields, defaults)

// New returns a configuration built from the given attributes. Missing
// attributes take their default values.
func New(attrs map[string]interface{}) (*Config, error) {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	coerced, err := checker.Coerce(attrs, nil)
	if err != nil {
		return nil, errors.Annotate(err, "invalid configuration")
	}
	m := coerced.(map[string]interface{})
	cfg := &Config{
		APIPath:    m[APIPathKey].(string),
		RouterPath: m[RouterPathKey].(string),
		PollPath:   m[PollPathKey].(string),
		KeepAlive:  m[KeepAliveKey].(bool),
		UserAgent:  m[UserAgentKey].(string),
	}
	if cfg.Timeout, err = parseDuration(TimeoutKey, m[TimeoutKey].(string)); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.PollInterval, err = parseDuration(PollIntervalKey, m[PollIntervalKey].(string)); err != nil {
		return nil, errors.Trace(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var attrs map[string]interface{}
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Annotate(err, "cannot parse configuration")
	}
	return New(attrs)
}

// ReadFile reads YAML configuration from the named file.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("configuration file %q", path)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	cfg, err := Parse(data)
	return cfg, errors.Annotatef(err, "reading %q", path)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	for key, path := range map[string]string{
		APIPathKey:    c.APIPath,
		RouterPathKey: c.RouterPath,
		PollPathKey:   c.PollPath,
	} {
		if path == "" {
			return errors.NotValidf("empty %s", key)
		}
		if !strings.HasPrefix(path, "/") && !strings.Contains(path, "://") {
			return errors.NotValidf("%s %q (must be absolute)", key, path)
		}
	}
	if c.Timeout < 0 {
		return errors.NotValidf("negative %s", TimeoutKey)
	}
	if c.PollInterval <= 0 {
		return errors.NotValidf("%s %v", PollIntervalKey, c.PollInterval)
	}
	return nil
}

// Attrs returns the configuration as attributes accepted by New.
func (c *Config) Attrs() map[string]interface{} {
	return map[string]interface{}{
		APIPathKey:      c.APIPath,
		RouterPathKey:   c.RouterPath,
		PollPathKey:     c.PollPath,
		TimeoutKey:      c.Timeout.String(),
		KeepAliveKey:    c.KeepAlive,
		UserAgentKey:    c.UserAgent,
		PollIntervalKey: c.PollInterval.String(),
	}
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.NotValidf("%s %q", key, value)
	}
	return d, nil
}
