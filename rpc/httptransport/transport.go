// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package httptransport sends envelopes to an Ext.Direct router over
// HTTP: polls and descriptor requests are GETs, calls are JSON POSTs and
// form submissions are urlencoded or multipart POSTs.
package httptransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/go-querystring/query"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/proxy"
	"github.com/juju/ratelimit"
	"golang.org/x/net/http/httpproxy"
	"gopkg.in/httprequest.v1"

	"github.com/juju/extdirect/rpc"
	"github.com/juju/extdirect/rpc/jsoncodec"
	"github.com/juju/extdirect/rpc/params"
)

var logger = loggo.GetLogger("extdirect.rpc.httptransport")

// Config holds the parameters of a Transport.
type Config struct {
	// Host is the server host name or address. It is required.
	Host string

	// Port defaults to 80.
	Port int

	// Scheme defaults to "http".
	Scheme string

	// Jar, if set, stores cookies the server sets and replays them.
	Jar http.CookieJar

	// RoundTripper defaults to a clone of http.DefaultTransport.
	RoundTripper http.RoundTripper

	// Proxy, if set, replaces the proxies taken from the environment
	// by the default RoundTripper.
	Proxy *proxy.Settings
}

// Validate checks the configuration.
func (cfg Config) Validate() error {
	if cfg.Host == "" {
		return errors.NotValidf("empty Host")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return errors.NotValidf("port %d", cfg.Port)
	}
	switch cfg.Scheme {
	case "", "http", "https":
	default:
		return errors.NotValidf("scheme %q", cfg.Scheme)
	}
	return nil
}

// Transport implements rpc.Invoker over HTTP.
type Transport struct {
	baseURL string
	client  *httprequest.Client
}

var _ rpc.Invoker = (*Transport)(nil)

// New returns a Transport talking to the configured server.
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	port := cfg.Port
	if port == 0 {
		port = 80
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	rt := cfg.RoundTripper
	if rt == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.Proxy != nil {
			tr.Proxy = proxyFunc(*cfg.Proxy)
		}
		rt = tr
	}
	base := (&url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
	}).String()
	return &Transport{
		baseURL: base,
		client: &httprequest.Client{
			BaseURL: base,
			Doer: &http.Client{
				Jar:       cfg.Jar,
				Transport: rt,
			},
			UnmarshalError: unmarshalError,
		},
	}, nil
}

// BaseURL returns the URL that relative paths are resolved against.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// Invoke is part of the rpc.Invoker interface. It makes exactly one
// request and never retries.
func (t *Transport) Invoke(ctx context.Context, env *rpc.Envelope) rpc.Outcome {
	opts, err := decodeOptions(env.Options)
	if err != nil {
		return rpc.Outcome{Err: errors.Trace(err)}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	req, err := newRequest(env)
	if err != nil {
		return rpc.Outcome{Err: errors.Trace(err)}
	}
	req.Header.Set("Accept", "application/json")
	opts.apply(req)
	if opts.uploadRate > 0 && env.Kind == rpc.KindSubmit {
		bucket := ratelimit.NewBucketWithRate(float64(opts.uploadRate), int64(opts.uploadRate))
		req.Body = io.NopCloser(ratelimit.Reader(req.Body, bucket))
		req.GetBody = nil
	}
	addCookies(req, env.Cookies)

	logger.Debugf("%s %s (%s tid %d)", req.Method, req.URL, env.Kind, env.TID)
	var resp *http.Response
	if err := t.client.Do(ctx, req, &resp); err != nil {
		return rpc.Outcome{Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return rpc.Outcome{Err: errors.Annotatef(err, "reading %s response", env.Kind)}
	}
	if logger.IsTraceEnabled() {
		logger.Tracef("%s response: %s", env.Kind, body)
	}
	return rpc.Outcome{Body: body}
}

func newRequest(env *rpc.Envelope) (*http.Request, error) {
	if env.URL == "" {
		return nil, errors.NotValidf("%s envelope without URL", env.Kind)
	}
	switch env.Kind {
	case rpc.KindAPI:
		return http.NewRequest(http.MethodGet, env.URL, nil)
	case rpc.KindPoll:
		return newPollRequest(env)
	case rpc.KindCall:
		data, err := jsoncodec.EncodeRequest(env.Request())
		if err != nil {
			return nil, errors.Trace(err)
		}
		req, err := http.NewRequest(http.MethodPost, env.URL, bytes.NewReader(data))
		if err != nil {
			return nil, errors.Trace(err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	case rpc.KindSubmit:
		return newFormRequest(env)
	}
	return nil, errors.NotSupportedf("envelope kind %v", env.Kind)
}

func newPollRequest(env *rpc.Envelope) (*http.Request, error) {
	values, err := query.Values(params.PollQuery{CacheBuster: env.TID})
	if err != nil {
		return nil, errors.Annotate(err, "encoding poll query")
	}
	target := env.URL
	if encoded := values.Encode(); encoded != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + encoded
	}
	return http.NewRequest(http.MethodGet, target, nil)
}

func newFormRequest(env *rpc.Envelope) (*http.Request, error) {
	values, err := env.FormValues()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(env.Uploads) == 0 {
		req, err := http.NewRequest(http.MethodPost, env.URL, strings.NewReader(values.Encode()))
		if err != nil {
			return nil, errors.Trace(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.WriteField(name, values.Get(name)); err != nil {
			return nil, errors.Trace(err)
		}
	}
	for _, u := range env.Uploads {
		if err := writeUpload(w, u); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.Trace(err)
	}
	logger.Debugf("submitting %d files to %s.%s (%s)",
		len(env.Uploads), env.Action, env.Method, humanize.Bytes(uint64(buf.Len())))

	req, err := http.NewRequest(http.MethodPost, env.URL, &buf)
	if err != nil {
		return nil, errors.Trace(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func writeUpload(w *multipart.Writer, u rpc.Upload) error {
	field := u.Field
	if field == "" {
		field = rpc.DefaultUploadField
	}
	filename := u.Filename
	if filename == "" && u.Path != "" {
		filename = filepath.Base(u.Path)
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return errors.Trace(err)
	}
	if u.Data != nil {
		_, err = part.Write(u.Data)
		return errors.Trace(err)
	}
	f, err := os.Open(u.Path)
	if err != nil {
		return errors.Annotatef(err, "cannot open upload")
	}
	defer f.Close()
	_, err = io.Copy(part, f)
	return errors.Annotatef(err, "reading upload %q", u.Path)
}

func addCookies(req *http.Request, cookies map[string]string) {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.AddCookie(&http.Cookie{Name: name, Value: cookies[name]})
	}
}

// unmarshalError turns a non-2xx response into an error. The body, if
// short, is included since routers tend to explain themselves there.
func unmarshalError(resp *http.Response) error {
	const maxBody = 512
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	msg := strings.TrimSpace(string(data))
	if msg == "" || len(data) == maxBody {
		return errors.Errorf("%s %s: %s", resp.Request.Method, resp.Request.URL, resp.Status)
	}
	return errors.Errorf("%s %s: %s: %s", resp.Request.Method, resp.Request.URL, resp.Status, msg)
}

// proxyFunc returns the proxy selection for the given settings.
func proxyFunc(settings proxy.Settings) func(*http.Request) (*url.URL, error) {
	cfg := &httpproxy.Config{
		HTTPProxy:  settings.Http,
		HTTPSProxy: settings.Https,
		NoProxy:    settings.NoProxy,
	}
	f := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return f(req.URL)
	}
}

// String implements fmt.Stringer.
func (t *Transport) String() string {
	return fmt.Sprintf("http transport to %s", t.baseURL)
}
