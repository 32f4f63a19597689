// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package params holds the wire types exchanged with an Ext.Direct
// style router: request and response envelopes, poll events and the
// API descriptor published by the server.
package params

import (
	"encoding/json"
)

// Envelope type values.
const (
	TypeRPC       = "rpc"
	TypeException = "exception"
	TypeEvent     = "event"
)

// Form field names used when a request is submitted as a form.
const (
	FormAction = "extAction"
	FormMethod = "extMethod"
	FormTID    = "extTID"
	FormType   = "extType"
	FormUpload = "extUpload"
)

// Request is a single remoting request as sent to the router.
type Request struct {
	Action string      `json:"action"`
	Method string      `json:"method"`
	Data   interface{} `json:"data"`
	Type   string      `json:"type"`
	TID    uint64      `json:"tid"`
}

// Response is a single remoting response. Exactly one of Result and
// Message is meaningful, depending on Type.
type Response struct {
	Type    string          `json:"type"`
	TID     uint64          `json:"tid"`
	Action  string          `json:"action,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
	Where   string          `json:"where,omitempty"`
}

// IsException reports whether the response carries a remote exception.
func (r *Response) IsException() bool {
	return r.Type == TypeException
}

// Event is a named item returned by a poll. Data may be a scalar, a list
// or a map.
type Event struct {
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}

// PollQuery is encoded into the query string of a poll request.
type PollQuery struct {
	// CacheBuster keeps intermediaries from caching poll responses.
	CacheBuster uint64 `url:"_dc,omitempty"`
}
