// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package api provides an asynchronous client for an Ext.Direct style
// router. Calls, form submissions and polls are accepted immediately and
// complete through a callback, an optional Signal, or both. Work
// submitted before the API descriptor is known is queued and run in
// submission order once it is.
package api

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	cookiejar "github.com/juju/persistent-cookiejar"
	"github.com/juju/proxy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/tomb.v2"

	"github.com/juju/extdirect/config"
	"github.com/juju/extdirect/rpc"
	"github.com/juju/extdirect/rpc/httptransport"
	"github.com/juju/extdirect/rpc/jsoncodec"
	"github.com/juju/extdirect/rpc/params"
)

var logger = loggo.GetLogger("extdirect.api")

const (
	// ErrAPIUnavailable is the type of the error delivered to every
	// request once the API descriptor could not be retrieved.
	ErrAPIUnavailable = errors.ConstError("API unavailable")

	// ErrClosed is returned for work submitted after Close.
	ErrClosed = errors.ConstError("client closed")
)

// DefaultPort is used when Config.Port is zero.
const DefaultPort = 80

// Callback receives the outcome of an operation. When success is true,
// err is nil and result holds the decoded result (nil for a JSON null);
// otherwise result is nil and err says what went wrong.
type Callback func(result interface{}, success bool, err error)

// Config holds the parameters of a Client.
type Config struct {
	// Host is the router host. It is required.
	Host string

	// Port defaults to DefaultPort.
	Port int

	// Scheme defaults to "http".
	Scheme string

	// API, if set, is used instead of retrieving the descriptor.
	API *params.APIDescriptor

	// Settings defaults to config.Default().
	Settings *config.Config

	// APIReady, if set, is called once with the outcome of the
	// descriptor retrieval.
	APIReady func(ok bool, err error)

	// Signal, if set, is notified once the descriptor retrieval has
	// completed, with the descriptor as the result value.
	Signal *Signal

	// Cookies are sent with every request.
	Cookies map[string]string

	// Options are passed to the transport with every request, on top
	// of those derived from Settings.
	Options rpc.Options

	// Transport defaults to an HTTP transport for Host and Port.
	Transport rpc.Invoker

	// Proxy, if set, overrides the proxies taken from the environment
	// by the default transport.
	Proxy *proxy.Settings

	// CookieFile, if set, persists cookies set by the server between
	// runs of the default transport. It is saved by Close.
	CookieFile string

	// Metrics, if set, collects request metrics.
	Metrics *Collector

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// Tracer defaults to the global otel tracer for this package.
	Tracer trace.Tracer
}

// Validate checks the configuration.
func (cfg Config) Validate() error {
	if cfg.Host == "" {
		return errors.NotValidf("missing Host")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return errors.NotValidf("Port %d", cfg.Port)
	}
	if cfg.Settings != nil {
		if err := cfg.Settings.Validate(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// CallParams describes a remote method call. Exactly one of Args and
// NamedArgs must be non-nil; an empty, non-nil Args calls a method
// taking no arguments.
type CallParams struct {
	Action    string
	Method    string
	Args      []interface{}
	NamedArgs map[string]interface{}
	Cookies   map[string]string
	Options   rpc.Options
	Signal    *Signal
}

// SubmitParams describes a form submission. At least one of Args and
// Uploads must be supplied.
type SubmitParams struct {
	Action  string
	Method  string
	Args    map[string]interface{}
	Uploads []rpc.Upload
	Cookies map[string]string
	Options rpc.Options
	Signal  *Signal
}

// PollParams describes an event poll. A successful poll delivers a
// []params.Event, empty when the server has nothing to report.
type PollParams struct {
	Cookies map[string]string
	Options rpc.Options
	Signal  *Signal
}

// Client is an asynchronous Ext.Direct client. Its methods may be called
// concurrently.
type Client struct {
	id        string
	host      string
	port      int
	settings  *config.Config
	cookies   map[string]string
	options   rpc.Options
	transport rpc.Invoker
	jar       *cookiejar.Jar
	persist   bool
	apiReady  func(ok bool, err error)
	signal    *Signal
	metrics   *Collector
	clock     clock.Clock
	tracer    trace.Tracer
	gate      *gate
	tid       atomic.Uint64

	tomb   tomb.Tomb
	mu     sync.RWMutex
	closed bool
}

// request is a piece of work waiting for, or running after, the gate.
type request struct {
	env      *rpc.Envelope
	callback Callback
	signal   *Signal
}

// NewClient returns a new client. The descriptor is retrieved on first
// use, or straight away when APIReady or Signal is set; it is never
// retrieved when API is set.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	c := &Client{
		id:       uuid.NewString(),
		host:     cfg.Host,
		port:     cfg.Port,
		settings: cfg.Settings,
		cookies:  copyCookies(cfg.Cookies),
		apiReady: cfg.APIReady,
		signal:   cfg.Signal,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		tracer:   cfg.Tracer,
	}
	if c.port == 0 {
		c.port = DefaultPort
	}
	if c.settings == nil {
		c.settings = config.Default()
	}
	if c.clock == nil {
		c.clock = clock.WallClock
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/juju/extdirect/api")
	}
	c.options = rpc.MergeOptions(settingsOptions(c.settings), cfg.Options)
	c.transport = cfg.Transport
	if c.transport == nil {
		jar, err := httptransport.NewJar(cfg.CookieFile)
		if err != nil {
			return nil, errors.Trace(err)
		}
		transport, err := httptransport.New(httptransport.Config{
			Host:   c.host,
			Port:   c.port,
			Scheme: cfg.Scheme,
			Jar:    jar,
			Proxy:  cfg.Proxy,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.jar, c.persist, c.transport = jar, cfg.CookieFile != "", transport
	}
	c.gate = newGate(gateConfig{
		API:     cfg.API,
		Fetch:   c.fetchAPI,
		Spawn:   c.spawn,
		Settled: c.settled,
		Metrics: c.metrics,
	})

	c.tomb.Go(func() error {
		<-c.tomb.Dying()
		return nil
	})

	if c.signal != nil {
		c.signal.begin()
		if cfg.API != nil {
			c.signal.notify(rpc.Succeeded(cfg.API))
		}
	}
	if cfg.API == nil && (c.apiReady != nil || c.signal != nil) {
		c.gate.ensureReady(nil)
	}
	logger.Debugf("client %s for %s:%d created", c.id, c.host, c.port)
	return c, nil
}

// ID returns the unique id of the client, as used in logs and traces.
func (c *Client) ID() string {
	return c.id
}

// Addr returns the host and port the client talks to.
func (c *Client) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// Ready reports whether the API descriptor is available. Once its
// retrieval has failed, the sticky error is returned.
func (c *Client) Ready() (bool, error) {
	state, _, err := c.gate.status()
	return state == stateReady, err
}

// APIDescriptor returns the descriptor in use, or nil if it is not
// available yet.
func (c *Client) APIDescriptor() *params.APIDescriptor {
	_, api, _ := c.gate.status()
	return api
}

// Call calls a remote method. Malformed parameters, and a missing
// callback and signal, are reported synchronously; everything else is
// delivered to the callback.
func (c *Client) Call(p CallParams, cb Callback) error {
	if err := checkNotify(cb, p.Signal); err != nil {
		return errors.Trace(err)
	}
	args, err := rpc.ArgsFrom(p.Args, p.NamedArgs)
	if err != nil {
		return errors.Annotatef(err, "calling %s.%s", p.Action, p.Method)
	}
	env, err := rpc.NewCall(p.Action, p.Method, args)
	if err != nil {
		return errors.Trace(err)
	}
	env.Cookies, env.Options = p.Cookies, p.Options
	return c.enqueue(env, cb, p.Signal)
}

// Submit submits a form, with optional file uploads.
func (c *Client) Submit(p SubmitParams, cb Callback) error {
	if err := checkNotify(cb, p.Signal); err != nil {
		return errors.Trace(err)
	}
	var args rpc.Args
	if p.Args != nil {
		args = rpc.Named(p.Args)
	}
	env, err := rpc.NewSubmit(p.Action, p.Method, args, p.Uploads)
	if err != nil {
		return errors.Trace(err)
	}
	env.Cookies, env.Options = p.Cookies, p.Options
	return c.enqueue(env, cb, p.Signal)
}

// Poll polls the server for events.
func (c *Client) Poll(p PollParams, cb Callback) error {
	if err := checkNotify(cb, p.Signal); err != nil {
		return errors.Trace(err)
	}
	env := rpc.NewPoll()
	env.Cookies, env.Options = p.Cookies, p.Options
	return c.enqueue(env, cb, p.Signal)
}

// Close stops the client accepting work, waits for the work already
// accepted to complete and saves any persistent cookies. It must not be
// called from a callback.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.tomb.Kill(nil)
	err := c.tomb.Wait()
	if c.persist {
		if saveErr := c.jar.Save(); saveErr != nil && err == nil {
			err = errors.Annotatef(saveErr, "cannot save cookie jar")
		}
	}
	logger.Debugf("client %s closed", c.id)
	return errors.Trace(err)
}

func checkNotify(cb Callback, sig *Signal) error {
	if cb == nil && sig == nil {
		return errors.NotValidf("missing callback")
	}
	return nil
}

func (c *Client) enqueue(env *rpc.Envelope, cb Callback, sig *Signal) error {
	env.Merge(c.cookies, c.options)
	req := &request{env: env, callback: cb, signal: sig}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.Trace(ErrClosed)
	}
	if sig != nil {
		sig.begin()
	}
	c.gate.ensureReady(func(api *params.APIDescriptor, err error) {
		c.dispatch(req, api, err)
	})
	return nil
}

// spawn runs f on a goroutine tracked by the client's tomb. Callers hold
// c.mu, run before NewClient returns, or run on a tracked goroutine.
func (c *Client) spawn(f func()) {
	c.tomb.Go(func() error {
		f()
		return nil
	})
}

// dispatch claims the request's place in line by giving it the next
// transaction id, then runs the exchange and the callback on a goroutine
// of its own. It returns once that goroutine is about to hand the
// request to the transport, so that requests are started in the order
// they were dispatched without waiting for each other to finish.
func (c *Client) dispatch(req *request, api *params.APIDescriptor, err error) {
	if err == nil {
		err = c.route(req.env, api)
	}
	if err != nil {
		res := rpc.Failed(err)
		c.spawn(func() { c.complete(req, res) })
		return
	}
	started := make(chan struct{})
	c.spawn(func() {
		res := c.exchange(req.env, started, func(out rpc.Outcome) rpc.Result {
			return rpc.Normalize(req.env, out)
		})
		c.complete(req, res)
	})
	<-started
}

// route validates the envelope against the descriptor, then fills in
// its URL and transaction id.
func (c *Client) route(env *rpc.Envelope, api *params.APIDescriptor) error {
	switch env.Kind {
	case rpc.KindPoll:
		env.URL = firstNonEmpty(api.PollURL, c.settings.PollPath)
	case rpc.KindCall, rpc.KindSubmit:
		if err := api.Validate(env.Shape()); err != nil {
			return errors.Trace(err)
		}
		env.URL = firstNonEmpty(api.URL, c.settings.RouterPath)
	default:
		return errors.NotSupportedf("dispatching %s", env.Kind)
	}
	env.TID = c.tid.Add(1)
	return nil
}

// exchange runs one transport exchange and decodes its outcome,
// recording metrics and a trace span for it. If started is not nil, it
// is closed just before the transport is called.
func (c *Client) exchange(env *rpc.Envelope, started chan<- struct{}, decode func(rpc.Outcome) rpc.Result) rpc.Result {
	attrs := []attribute.KeyValue{
		attribute.String("extdirect.client", c.id),
		attribute.String("extdirect.kind", env.Kind.String()),
	}
	if env.Action != "" {
		attrs = append(attrs,
			attribute.String("extdirect.action", env.Action),
			attribute.String("extdirect.method", env.Method),
			attribute.Int64("extdirect.tid", int64(env.TID)),
		)
	}
	ctx, span := c.tracer.Start(context.Background(), "extdirect "+env.Kind.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	start := c.clock.Now()
	if started != nil {
		close(started)
	}
	res := decode(c.transport.Invoke(ctx, env))
	c.metrics.observe(env.Kind, res, c.clock.Now().Sub(start))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}

func (c *Client) complete(req *request, res rpc.Result) {
	if req.callback != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warningf("%s callback panicked: %v", describe(req.env), r)
				}
			}()
			req.callback(res.Value, res.Success, res.Err)
		}()
	}
	if req.signal != nil {
		req.signal.notify(res)
	}
}

// fetchAPI retrieves and decodes the API descriptor. It runs once, on
// the bootstrap goroutine.
func (c *Client) fetchAPI() (*params.APIDescriptor, error) {
	env := rpc.NewAPIRequest(c.settings.APIPath)
	env.Merge(c.cookies, c.options)
	res := c.exchange(env, nil, func(out rpc.Outcome) rpc.Result {
		if out.Err != nil {
			return rpc.Failed(out.Err)
		}
		api, err := jsoncodec.DecodeDescriptor(out.Body)
		if err != nil {
			return rpc.Failed(err)
		}
		return rpc.Succeeded(api)
	})
	if res.Err != nil {
		err := errors.Annotatef(res.Err, "cannot retrieve API descriptor from %s", c.Addr())
		return nil, errors.WithType(err, ErrAPIUnavailable)
	}
	return res.Value.(*params.APIDescriptor), nil
}

func (c *Client) settled(api *params.APIDescriptor, err error) {
	if err != nil {
		logger.Errorf("client %s: %v", c.id, err)
	} else {
		logger.Debugf("client %s: API descriptor with %d actions", c.id, len(api.Actions))
	}
	if c.apiReady != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warningf("API ready callback panicked: %v", r)
				}
			}()
			c.apiReady(err == nil, err)
		}()
	}
	if c.signal != nil {
		if err != nil {
			c.signal.notify(rpc.Failed(err))
		} else {
			c.signal.notify(rpc.Succeeded(api))
		}
	}
}

func settingsOptions(s *config.Config) rpc.Options {
	opts := rpc.Options{
		httptransport.OptionKeepAlive: s.KeepAlive,
	}
	if s.UserAgent != "" {
		opts[httptransport.OptionUserAgent] = s.UserAgent
	}
	if s.Timeout > 0 {
		opts[httptransport.OptionTimeout] = s.Timeout
	}
	return opts
}

func copyCookies(in map[string]string) map[string]string {
	return rpc.MergeCookies(in, nil)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func describe(env *rpc.Envelope) string {
	if env.Action == "" {
		return env.Kind.String()
	}
	return fmt.Sprintf("%s %s.%s", env.Kind, env.Action, env.Method)
}
