// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"github.com/juju/errors"
)

// RequestError is a remote exception reported by the router.
type RequestError struct {
	Message string
	Where   string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return "unknown remote exception"
	}
	return e.Message
}

// IsRequestError reports whether err is, or wraps, a remote exception.
func IsRequestError(err error) bool {
	return errors.HasType[*RequestError](err)
}
