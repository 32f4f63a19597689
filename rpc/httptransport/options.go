// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package httptransport

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/juju/extdirect/rpc"
)

// Option keys understood by the transport.
const (
	// OptionKeepAlive enables persistent connections for the request.
	// Off by default: reusing a connection for a request the server has
	// already closed is not safe for non-idempotent calls.
	OptionKeepAlive = "keepalive"

	// OptionTimeout bounds the whole exchange. It takes a time.Duration
	// or a string such as "30s".
	OptionTimeout = "timeout"

	// OptionUserAgent sets the User-Agent header.
	OptionUserAgent = "user-agent"

	// OptionHeaders is a map of extra request headers.
	OptionHeaders = "headers"

	// OptionUploadRate limits the rate at which a form submission is
	// sent, in bytes per second. It takes a number or a size such as
	// "512KiB".
	OptionUploadRate = "upload-rate"

	// HeaderOptionPrefix marks single extra headers: "header-X-Foo"
	// sends X-Foo.
	HeaderOptionPrefix = "header-"
)

var knownOptions = set.NewStrings(OptionKeepAlive, OptionTimeout, OptionUserAgent, OptionHeaders, OptionUploadRate)

// requestOptions is the typed form of rpc.Options.
type requestOptions struct {
	KeepAlive bool              `option:"keepalive"`
	Timeout   time.Duration     `option:"timeout"`
	UserAgent string            `option:"user-agent"`
	Headers   map[string]string `option:"headers"`

	UploadRate string `option:"upload-rate"`
	uploadRate uint64
}

func decodeOptions(opts rpc.Options) (requestOptions, error) {
	var result requestOptions
	known := make(map[string]interface{}, len(opts))
	extra := make(map[string]string)
	for key, value := range opts {
		switch {
		case knownOptions.Contains(key):
			known[key] = value
		case strings.HasPrefix(key, HeaderOptionPrefix):
			name := strings.TrimPrefix(key, HeaderOptionPrefix)
			if name == "" {
				return requestOptions{}, errors.NotValidf("empty header option")
			}
			extra[name] = valueString(value)
		default:
			logger.Debugf("ignoring unknown transport option %q", key)
		}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		TagName:          "option",
		Result:           &result,
	})
	if err != nil {
		return requestOptions{}, errors.Trace(err)
	}
	if err := decoder.Decode(known); err != nil {
		return requestOptions{}, errors.Annotate(err, "decoding transport options")
	}
	if result.Headers == nil {
		result.Headers = make(map[string]string, len(extra))
	}
	for name, value := range extra {
		result.Headers[name] = value
	}
	if result.Timeout < 0 {
		return requestOptions{}, errors.NotValidf("negative timeout %v", result.Timeout)
	}
	if result.UploadRate != "" {
		rate, err := humanize.ParseBytes(result.UploadRate)
		if err != nil {
			return requestOptions{}, errors.NewNotValid(err, fmt.Sprintf("upload rate %q", result.UploadRate))
		}
		result.uploadRate = rate
	}
	return result, nil
}

func (o requestOptions) apply(req *http.Request) {
	req.Close = !o.KeepAlive
	if o.UserAgent != "" {
		req.Header.Set("User-Agent", o.UserAgent)
	}
	for name, value := range o.Headers {
		req.Header.Set(name, value)
	}
}

func valueString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	var s string
	if err := mapstructure.WeakDecode(v, &s); err != nil {
		return ""
	}
	return s
}
