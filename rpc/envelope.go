// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/juju/errors"

	"github.com/juju/extdirect/rpc/params"
)

// Kind identifies the operation an envelope describes.
type Kind int

const (
	KindCall Kind = iota + 1
	KindSubmit
	KindPoll
	KindAPI
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindSubmit:
		return "submit"
	case KindPoll:
		return "poll"
	case KindAPI:
		return "api"
	}
	return "unknown"
}

// DefaultUploadField is the form field used for uploads that do not
// name one.
const DefaultUploadField = "upload"

// Upload is a file sent with a form submission. Either Path names a file
// to read at dispatch time, or Data holds the content directly.
type Upload struct {
	Field    string
	Path     string
	Filename string
	Data     []byte
}

// Envelope is the transport-agnostic description of one outbound
// operation.
type Envelope struct {
	Kind    Kind
	Action  string
	Method  string
	Args    Args
	Uploads []Upload
	Cookies map[string]string
	Options Options

	// TID is the transaction id echoed back by the router.
	TID uint64

	// URL is the router, poll or descriptor path the envelope is sent
	// to. It is resolved at dispatch time.
	URL string
}

// NewCall returns the envelope for a remote method call.
func NewCall(action, method string, args Args) (*Envelope, error) {
	if err := checkTarget(action, method); err != nil {
		return nil, errors.Trace(err)
	}
	if args.IsZero() {
		return nil, errors.NotValidf("call to %s.%s without arguments", action, method)
	}
	return &Envelope{
		Kind:   KindCall,
		Action: action,
		Method: method,
		Args:   args,
	}, nil
}

// NewSubmit returns the envelope for a form submission. Form fields are
// always named; at least one of args and uploads must be supplied.
func NewSubmit(action, method string, args Args, uploads []Upload) (*Envelope, error) {
	if err := checkTarget(action, method); err != nil {
		return nil, errors.Trace(err)
	}
	if args.IsZero() && len(uploads) == 0 {
		return nil, errors.NotValidf("form submission to %s.%s without arguments or uploads", action, method)
	}
	if !args.IsZero() && !args.IsNamed() {
		return nil, errors.NotValidf("ordered arguments in form submission to %s.%s", action, method)
	}
	for i, u := range uploads {
		if u.Path == "" && u.Data == nil {
			return nil, errors.NotValidf("upload %d without path or data", i)
		}
	}
	return &Envelope{
		Kind:    KindSubmit,
		Action:  action,
		Method:  method,
		Args:    args,
		Uploads: uploads,
	}, nil
}

// NewPoll returns the envelope for an event poll.
func NewPoll() *Envelope {
	return &Envelope{Kind: KindPoll}
}

// NewAPIRequest returns the envelope used to retrieve the API
// descriptor from the given path.
func NewAPIRequest(path string) *Envelope {
	return &Envelope{Kind: KindAPI, URL: path}
}

func checkTarget(action, method string) error {
	if action == "" {
		return errors.NotValidf("empty action")
	}
	if method == "" {
		return errors.NotValidf("empty method")
	}
	return nil
}

// Request returns the JSON request for a call envelope.
func (e *Envelope) Request() params.Request {
	return params.Request{
		Action: e.Action,
		Method: e.Method,
		Data:   e.Args.Data(),
		Type:   params.TypeRPC,
		TID:    e.TID,
	}
}

// Shape describes the envelope for descriptor validation.
func (e *Envelope) Shape() params.CallShape {
	shape := params.CallShape{
		Action:  e.Action,
		Method:  e.Method,
		Form:    e.Kind == KindSubmit,
		IsNamed: e.Args.IsNamed(),
	}
	if e.Args.IsNamed() {
		shape.Named = e.Args.Names()
	} else {
		shape.Ordered = e.Args.Len()
	}
	return shape
}

// FormValues returns the fields of a form submission, including the
// routing fields the router expects.
func (e *Envelope) FormValues() (url.Values, error) {
	values := url.Values{}
	values.Set(params.FormAction, e.Action)
	values.Set(params.FormMethod, e.Method)
	values.Set(params.FormTID, strconv.FormatUint(e.TID, 10))
	values.Set(params.FormType, params.TypeRPC)
	values.Set(params.FormUpload, strconv.FormatBool(len(e.Uploads) > 0))
	for _, name := range e.Args.Names() {
		v, err := formValue(e.Args.named[name])
		if err != nil {
			return nil, errors.Annotatef(err, "form field %q", name)
		}
		values.Set(name, v)
	}
	return values, nil
}

func formValue(v interface{}) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(v), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(data), nil
}
