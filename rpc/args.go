// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"sort"

	"github.com/juju/errors"
)

type argsKind int

const (
	argsNone argsKind = iota
	argsOrdered
	argsNamed
)

// Args holds the arguments of a remote call: either an ordered list for
// positional parameters or a named mapping, never both. The zero value
// means no arguments were supplied.
type Args struct {
	kind    argsKind
	ordered []interface{}
	named   map[string]interface{}
}

// Ordered returns positional arguments. Calling it with no values gives
// an empty, but supplied, argument list.
func Ordered(values ...interface{}) Args {
	if values == nil {
		values = []interface{}{}
	}
	return Args{kind: argsOrdered, ordered: values}
}

// Named returns keyword arguments. A nil map is treated as empty.
func Named(values map[string]interface{}) Args {
	if values == nil {
		values = map[string]interface{}{}
	}
	return Args{kind: argsNamed, named: values}
}

// ArgsFrom chooses the argument shape from what the caller supplied. A
// non-nil ordered slice and a non-nil map together are rejected, as is
// supplying neither.
func ArgsFrom(ordered []interface{}, named map[string]interface{}) (Args, error) {
	switch {
	case ordered != nil && named != nil:
		return Args{}, errors.NotValidf("both ordered and named arguments")
	case ordered != nil:
		return Ordered(ordered...), nil
	case named != nil:
		return Named(named), nil
	}
	return Args{}, errors.NotValidf("missing arguments")
}

// IsZero reports whether no arguments were supplied.
func (a Args) IsZero() bool {
	return a.kind == argsNone
}

// IsNamed reports whether the arguments are named.
func (a Args) IsNamed() bool {
	return a.kind == argsNamed
}

// Len returns the number of arguments.
func (a Args) Len() int {
	if a.kind == argsNamed {
		return len(a.named)
	}
	return len(a.ordered)
}

// Names returns the sorted argument names of named arguments.
func (a Args) Names() []string {
	names := make([]string, 0, len(a.named))
	for name := range a.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OrderedValues returns the positional values.
func (a Args) OrderedValues() []interface{} {
	return a.ordered
}

// NamedValues returns the named values.
func (a Args) NamedValues() map[string]interface{} {
	return a.named
}

// Data returns the value carried in a request's data field.
func (a Args) Data() interface{} {
	switch a.kind {
	case argsOrdered:
		return a.ordered
	case argsNamed:
		return a.named
	}
	return nil
}
