// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
)

// KeyValues implements gnuflag.Value for a repeatable key=value flag.
type KeyValues map[string]string

// Set adds a single key=value pair.
func (kv *KeyValues) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return errors.NewNotValid(nil, fmt.Sprintf("expected key=value, got %q", s))
	}
	if *kv == nil {
		*kv = make(KeyValues)
	}
	(*kv)[key] = value
	return nil
}

// String returns the pairs in key order.
func (kv *KeyValues) String() string {
	pairs := make([]string, 0, len(*kv))
	for k, v := range *kv {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}

// ParseKeyValues parses positional key=value arguments.
func ParseKeyValues(args []string) (map[string]string, error) {
	var kv KeyValues
	for _, arg := range args {
		if err := kv.Set(arg); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return kv, nil
}
