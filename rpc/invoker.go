// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"context"
)

// Outcome is the raw result of a single transport exchange: either the
// response body, or the error that prevented one.
type Outcome struct {
	Body []byte
	Err  error
}

// Invoker performs one transport exchange for an envelope. It never
// retries, and it does not interpret remote exceptions.
type Invoker interface {
	Invoke(ctx context.Context, env *Envelope) Outcome
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, env *Envelope) Outcome

// Invoke is part of the Invoker interface.
func (f InvokerFunc) Invoke(ctx context.Context, env *Envelope) Outcome {
	return f(ctx, env)
}
