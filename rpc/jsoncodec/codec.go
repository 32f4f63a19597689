// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package jsoncodec encodes remoting requests and decodes the router's
// responses, poll events and API descriptors.
package jsoncodec

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/extdirect/rpc/params"
)

var logger = loggo.GetLogger("extdirect.rpc.jsoncodec")

// NoEvents is the name of the placeholder event a router returns when a
// poll has nothing to report.
const NoEvents = "__NONE__"

// ErrMalformed is the type of every decoding error returned by this
// package.
const ErrMalformed = errors.ConstError("malformed envelope")

// EncodeRequest returns the JSON body for a single remoting request.
func EncodeRequest(req params.Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot encode %s.%s request", req.Action, req.Method)
	}
	return data, nil
}

// DecodeResponse decodes a remoting response. A batch holding exactly
// one response is accepted.
func DecodeResponse(data []byte) (*params.Response, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, malformed("empty response")
	}
	var resp params.Response
	switch data[0] {
	case '[':
		var batch []params.Response
		if err := unmarshal(data, &batch); err != nil {
			return nil, malformed("response: %v", err)
		}
		if len(batch) != 1 {
			return nil, malformed("expected 1 response in batch, got %d", len(batch))
		}
		resp = batch[0]
	case '{':
		if err := unmarshal(data, &resp); err != nil {
			return nil, malformed("response: %v", err)
		}
	default:
		return nil, malformed("response is not a JSON object")
	}
	switch resp.Type {
	case params.TypeRPC, params.TypeException:
	default:
		return nil, malformed("unexpected response type %q", resp.Type)
	}
	return &resp, nil
}

// DecodeResult decodes the result payload of a response. A JSON null
// decodes to nil; a missing result is malformed.
func DecodeResult(raw json.RawMessage) (interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, malformed("response has no result")
	}
	var v interface{}
	if err := unmarshal(raw, &v); err != nil {
		return nil, malformed("result: %v", err)
	}
	return v, nil
}

// DecodePollException returns the exception carried by a poll
// response, or nil if the response is not an exception. A server that
// cannot poll answers with an exception envelope instead of events.
func DecodePollException(data []byte) *params.Response {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	var raw []params.Response
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
	case '{':
		var one params.Response
		if err := json.Unmarshal(data, &one); err != nil {
			return nil
		}
		raw = append(raw, one)
	}
	for i := range raw {
		if raw[i].IsException() {
			return &raw[i]
		}
	}
	return nil
}

// DecodeEvents decodes a poll response. The result is never nil: a poll
// with nothing to report yields an empty slice.
func DecodeEvents(data []byte) ([]params.Event, error) {
	data = bytes.TrimSpace(data)
	events := []params.Event{}
	if len(data) == 0 {
		return events, nil
	}
	var raw []rawEvent
	switch data[0] {
	case '[':
		if err := unmarshal(data, &raw); err != nil {
			return nil, malformed("events: %v", err)
		}
	case '{':
		var one rawEvent
		if err := unmarshal(data, &one); err != nil {
			return nil, malformed("event: %v", err)
		}
		raw = append(raw, one)
	default:
		return nil, malformed("poll response is not a JSON object or list")
	}
	for i, ev := range raw {
		if ev.Type != "" && ev.Type != params.TypeEvent {
			return nil, malformed("event %d has type %q", i, ev.Type)
		}
		if ev.Name == "" {
			return nil, malformed("event %d has no name", i)
		}
		if ev.Name == NoEvents {
			continue
		}
		events = append(events, params.Event{Name: ev.Name, Data: ev.Data})
	}
	return events, nil
}

type rawEvent struct {
	Type string      `json:"type"`
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}

func unmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("trailing data")
	}
	return nil
}

func malformed(format string, args ...interface{}) error {
	return errors.WithType(errors.Errorf(format, args...), ErrMalformed)
}
