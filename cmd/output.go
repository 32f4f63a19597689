// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"gopkg.in/yaml.v2"
)

// Formatter writes an arbitrary object to w.
type Formatter func(w io.Writer, value interface{}) error

// FormatYaml marshals value to a yaml-formatted []byte, unless value is nil.
func FormatYaml(w io.Writer, value interface{}) error {
	if value == nil {
		return nil
	}
	result, err := yaml.Marshal(value)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = w.Write(result)
	return errors.Trace(err)
}

// FormatJson marshals value to a json-formatted []byte.
func FormatJson(w io.Writer, value interface{}) error {
	result, err := json.Marshal(value)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := w.Write(result); err != nil {
		return errors.Trace(err)
	}
	_, err = fmt.Fprintln(w)
	return errors.Trace(err)
}

// DefaultFormatters holds the formatters available to every command.
var DefaultFormatters = map[string]Formatter{
	"yaml": FormatYaml,
	"json": FormatJson,
}

// NewTable returns a table configured the way tabular output is printed.
func NewTable() *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true
	table.Separator = "  "
	return table
}

// WriteTable writes table to w, followed by a newline.
func WriteTable(w io.Writer, table *uitable.Table) error {
	_, err := fmt.Fprintln(w, table)
	return errors.Trace(err)
}

// formatterValue implements gnuflag.Value for the --format flag.
type formatterValue struct {
	name       string
	formatters map[string]Formatter
}

// newFormatterValue returns a new formatterValue. The initial Formatter name
// must be present in formatters.
func newFormatterValue(initial string, formatters map[string]Formatter) *formatterValue {
	v := &formatterValue{formatters: formatters}
	if err := v.Set(initial); err != nil {
		panic(err)
	}
	return v
}

// Set stores the chosen formatter name in v.name.
func (v *formatterValue) Set(value string) error {
	if v.formatters[value] == nil {
		return errors.Errorf("unknown format %q", value)
	}
	v.name = value
	return nil
}

// String returns the chosen formatter name.
func (v *formatterValue) String() string {
	return v.name
}

// doc returns documentation for the --format flag.
func (v *formatterValue) doc() string {
	choices := make([]string, 0, len(v.formatters))
	for name := range v.formatters {
		choices = append(choices, name)
	}
	sort.Strings(choices)
	return "Specify output format (" + strings.Join(choices, "|") + ")"
}

// Output is responsible for interpreting output-related command line flags
// and writing a value to a file or to stdout as directed.
type Output struct {
	formatter *formatterValue
	outPath   string
}

// AddFlags injects the --format and --output flags into f.
func (c *Output) AddFlags(f *gnuflag.FlagSet, defaultFormatter string, formatters map[string]Formatter) {
	c.formatter = newFormatterValue(defaultFormatter, formatters)
	f.Var(c.formatter, "format", c.formatter.doc())
	f.StringVar(&c.outPath, "o", "", "Specify an output file")
	f.StringVar(&c.outPath, "output", "", "")
}

// Name returns the name of the chosen formatter.
func (c *Output) Name() string {
	return c.formatter.name
}

// Write formats and outputs value as directed by the --format and --output
// command line flags.
// Output files are appended to, so that a stream of values can be
// written with repeated calls.
func (c *Output) Write(ctx *Context, value interface{}) error {
	format := c.formatter.formatters[c.formatter.name]
	if c.outPath == "" {
		return format(ctx.Stdout, value)
	}
	f, err := os.OpenFile(ctx.AbsPath(c.outPath), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return errors.Trace(err)
	}
	if err := format(f, value); err != nil {
		f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}
