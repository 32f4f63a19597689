// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"io"
	"os"

	"github.com/juju/errors"
)

// FileVar represents a path to a file.
type FileVar struct {
	// Path is the path to the file.
	Path string
}

// Set stores the chosen path name in f.Path.
func (f *FileVar) Set(v string) error {
	f.Path = v
	return nil
}

// IsSet reports whether a path was given.
func (f *FileVar) IsSet() bool {
	return f.Path != ""
}

// Open returns an io.ReadCloser to the file relative to the context.
func (f *FileVar) Open(ctx *Context) (io.ReadCloser, error) {
	if f.Path == "" {
		return nil, errors.New("path not set")
	}
	file, err := os.Open(ctx.AbsPath(f.Path))
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("file %q", f.Path)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return file, nil
}

// Read returns the contents of the file.
func (f *FileVar) Read(ctx *Context) ([]byte, error) {
	r, err := f.Open(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	return data, errors.Trace(err)
}

// String returns the path to the file.
func (f *FileVar) String() string {
	return f.Path
}
