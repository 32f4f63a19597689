// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsoncodec

import (
	"bytes"
	"encoding/json"

	"github.com/juju/errors"

	"github.com/juju/extdirect/rpc/params"
)

// DecodeDescriptor decodes an API descriptor. The body may be a bare JSON
// object or the JavaScript form served to browsers, where one or more
// providers are assigned to variables:
//
//	Ext.app.REMOTING_API = {"url": "/router", "type": "remoting", ...};
//	Ext.app.POLLING_API = {"url": "/events", "type": "polling"};
//
// The remoting provider becomes the descriptor; the URL of a polling
// provider, if any, is recorded in PollURL.
func DecodeDescriptor(data []byte) (*params.APIDescriptor, error) {
	var (
		remoting *params.APIDescriptor
		pollURL  string
	)
	rest := bytes.TrimSpace(data)
	for len(rest) > 0 {
		start := bytes.IndexByte(rest, '{')
		if start < 0 {
			break
		}
		dec := json.NewDecoder(bytes.NewReader(rest[start:]))
		var provider params.APIDescriptor
		if err := dec.Decode(&provider); err != nil {
			return nil, malformed("API descriptor: %v", err)
		}
		rest = rest[start+int(dec.InputOffset()):]

		switch provider.Type {
		case params.ProviderPolling:
			pollURL = provider.URL
		case params.ProviderRemoting, "":
			if remoting != nil {
				return nil, malformed("API descriptor has more than one remoting provider")
			}
			p := provider
			remoting = &p
		default:
			logger.Debugf("ignoring %q provider in API descriptor", provider.Type)
		}
	}
	if remoting == nil {
		return nil, malformed("API descriptor has no remoting provider")
	}
	if remoting.URL == "" {
		return nil, malformed("API descriptor has no router URL")
	}
	remoting.PollURL = pollURL
	logger.Tracef("decoded API descriptor with %d actions", len(remoting.Actions))
	return remoting, nil
}

// EncodeDescriptor returns the JSON form of a descriptor, without any
// polling provider.
func EncodeDescriptor(d *params.APIDescriptor) ([]byte, error) {
	data, err := json.Marshal(d)
	return data, errors.Trace(err)
}
