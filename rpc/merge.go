// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import "github.com/mohae/deepcopy"

// Options holds transport options passed through to every request. The
// keys understood by the HTTP transport are documented in package
// httptransport; others are ignored by it.
type Options map[string]interface{}

// MergeCookies returns the cookies to send with a request: per-call
// values override client values key by key. Neither input is modified.
func MergeCookies(client, call map[string]string) map[string]string {
	if len(client) == 0 && len(call) == 0 {
		return nil
	}
	merged := make(map[string]string, len(client)+len(call))
	for k, v := range client {
		merged[k] = v
	}
	for k, v := range call {
		merged[k] = v
	}
	return merged
}

// MergeOptions returns the transport options for a request, with the
// same override rules as MergeCookies. Values are deep copied, so that
// nested maps such as headers are never shared between requests.
func MergeOptions(client, call Options) Options {
	if len(client) == 0 && len(call) == 0 {
		return nil
	}
	merged := make(Options, len(client)+len(call))
	for k, v := range client {
		merged[k] = deepcopy.Copy(v)
	}
	for k, v := range call {
		merged[k] = deepcopy.Copy(v)
	}
	return merged
}

// Merge fills in the envelope's cookies and options from the client
// defaults.
func (e *Envelope) Merge(cookies map[string]string, options Options) {
	e.Cookies = MergeCookies(cookies, e.Cookies)
	e.Options = MergeOptions(options, e.Options)
}
