// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

import (
	"fmt"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Provider types found in a descriptor.
const (
	ProviderRemoting = "remoting"
	ProviderPolling  = "polling"
)

// APIDescriptor describes the actions and methods a router exposes.
type APIDescriptor struct {
	// URL is the router path (or absolute URL) that calls and form
	// submissions are posted to.
	URL string `json:"url"`

	// Type is the provider type, normally "remoting".
	Type string `json:"type"`

	Namespace string `json:"namespace,omitempty"`

	// Actions maps each action name to the methods it exposes.
	Actions map[string][]MethodSpec `json:"actions"`

	// PollURL is taken from a polling provider published alongside the
	// remoting one. It is empty when the server publishes none.
	PollURL string `json:"-"`
}

// MethodSpec describes a single remote method.
type MethodSpec struct {
	Name string `json:"name"`

	// Len is the number of ordered arguments the method takes. It is
	// nil for methods taking named arguments.
	Len *int `json:"len,omitempty"`

	// Params lists the named arguments of a named method.
	Params []string `json:"params,omitempty"`

	// Strict methods require every name in Params to be supplied.
	Strict bool `json:"strict,omitempty"`

	FormHandler bool `json:"formHandler,omitempty"`
}

// Named reports whether the method takes named arguments.
func (m MethodSpec) Named() bool {
	return m.Len == nil && m.Params != nil
}

// Method looks up the given method of the given action.
func (d *APIDescriptor) Method(action, method string) (MethodSpec, error) {
	methods, ok := d.Actions[action]
	if !ok {
		return MethodSpec{}, errors.NotFoundf("action %q", action)
	}
	for _, m := range methods {
		if m.Name == method {
			return m, nil
		}
	}
	return MethodSpec{}, errors.NotFoundf("method %q of action %q", method, action)
}

// CallShape is what Validate needs to know about an outgoing request.
type CallShape struct {
	Action  string
	Method  string
	Form    bool
	Ordered int
	Named   []string
	IsNamed bool
}

// Validate checks an outgoing request against the descriptor.
func (d *APIDescriptor) Validate(shape CallShape) error {
	spec, err := d.Method(shape.Action, shape.Method)
	if err != nil {
		return errors.Trace(err)
	}
	name := shape.Action + "." + shape.Method
	switch {
	case spec.FormHandler && !shape.Form:
		return errors.NotValidf("call to form handler %s", name)
	case !spec.FormHandler && shape.Form:
		return errors.NotValidf("form submission to %s", name)
	case shape.Form:
		return nil
	}
	if spec.Named() {
		if !shape.IsNamed {
			return errors.NotValidf("ordered arguments for named method %s", name)
		}
		if !spec.Strict {
			return nil
		}
		missing := set.NewStrings(spec.Params...).Difference(set.NewStrings(shape.Named...))
		if !missing.IsEmpty() {
			return errors.NewNotValid(nil, fmt.Sprintf(
				"%s requires arguments %s", name, strings.Join(missing.SortedValues(), ", ")))
		}
		return nil
	}
	if shape.IsNamed {
		return errors.NotValidf("named arguments for ordered method %s", name)
	}
	if spec.Len != nil && shape.Ordered < *spec.Len {
		return errors.NewNotValid(nil, fmt.Sprintf(
			"%s requires %d arguments, got %d", name, *spec.Len, shape.Ordered))
	}
	return nil
}
