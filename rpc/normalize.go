// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/extdirect/rpc/jsoncodec"
)

var logger = loggo.GetLogger("extdirect.rpc")

// Result is what a caller sees when an operation completes. Success is
// true exactly when Err is nil; Value is only meaningful on success.
type Result struct {
	Value   interface{}
	Success bool
	Err     error
}

// Succeeded returns a successful result.
func Succeeded(value interface{}) Result {
	return Result{Value: value, Success: true}
}

// Failed returns a failed result. A nil error is replaced so that the
// result still carries one.
func Failed(err error) Result {
	if err == nil {
		err = errors.New("operation failed without an error")
	}
	return Result{Err: err}
}

// Normalize turns a transport outcome into a caller-visible result.
// Transport failures short-circuit without looking at the body. For
// calls and submissions the body must be a response envelope; a remote
// exception becomes a *RequestError. For polls the body is a list of
// events, and an empty list is a success; an exception envelope in
// place of the events also becomes a *RequestError.
func Normalize(env *Envelope, out Outcome) Result {
	if out.Err != nil {
		return Failed(out.Err)
	}
	switch env.Kind {
	case KindPoll:
		if exc := jsoncodec.DecodePollException(out.Body); exc != nil {
			return Failed(&RequestError{Message: exc.Message, Where: exc.Where})
		}
		events, err := jsoncodec.DecodeEvents(out.Body)
		if err != nil {
			return Failed(errors.Trace(err))
		}
		return Succeeded(events)
	case KindCall, KindSubmit:
		return normalizeResponse(env, out.Body)
	}
	return Failed(errors.NotSupportedf("normalizing %s outcome", env.Kind))
}

func normalizeResponse(env *Envelope, body []byte) Result {
	resp, err := jsoncodec.DecodeResponse(body)
	if err != nil {
		return Failed(errors.Trace(err))
	}
	if resp.TID != env.TID {
		logger.Warningf("response to %s.%s has tid %d, expected %d", env.Action, env.Method, resp.TID, env.TID)
	}
	if resp.IsException() {
		return Failed(&RequestError{Message: resp.Message, Where: resp.Where})
	}
	value, err := jsoncodec.DecodeResult(resp.Result)
	if err != nil {
		return Failed(errors.Trace(err))
	}
	return Succeeded(value)
}
