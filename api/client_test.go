// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/juju/extdirect/api"
	"github.com/juju/extdirect/rpc"
	"github.com/juju/extdirect/rpc/httptransport"
	"github.com/juju/extdirect/rpc/jsoncodec"
	"github.com/juju/extdirect/rpc/mocks"
	"github.com/juju/extdirect/rpc/params"
)

const descriptorJS = `Ext.app.REMOTING_API = {
	"url": "/router",
	"type": "remoting",
	"actions": {
		"Demo": [
			{"name": "echo", "len": 1},
			{"name": "ping", "len": 0},
			{"name": "greet", "params": ["name"], "strict": true},
			{"name": "upload", "formHandler": true}
		]
	}
};
Ext.app.POLLING_API = {"url": "/events", "type": "polling"};
`

type clientSuite struct {
	testing.IsolationSuite

	invoker *mocks.MockInvoker
}

var _ = gc.Suite(&clientSuite{})

func (s *clientSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.invoker = mocks.NewMockInvoker(ctrl)
	return ctrl
}

func (s *clientSuite) newClient(c *gc.C, cfg api.Config) *api.Client {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Transport == nil {
		cfg.Transport = s.invoker
	}
	client, err := api.NewClient(cfg)
	c.Assert(err, jc.ErrorIsNil)
	return client
}

func descriptor(c *gc.C) *params.APIDescriptor {
	d, err := jsoncodec.DecodeDescriptor([]byte(descriptorJS))
	c.Assert(err, jc.ErrorIsNil)
	return d
}

// outcome is one delivered completion.
type outcome struct {
	result  interface{}
	success bool
	err     error
}

type outcomes chan outcome

func newOutcomes() outcomes {
	return make(outcomes, 16)
}

func (o outcomes) callback(result interface{}, success bool, err error) {
	o <- outcome{result: result, success: success, err: err}
}

func (o outcomes) next(c *gc.C) outcome {
	select {
	case out := <-o:
		// Exactly one of result and error is delivered.
		if out.success {
			c.Check(out.err, jc.ErrorIsNil)
		} else {
			c.Check(out.err, gc.NotNil)
			c.Check(out.result, gc.IsNil)
		}
		return out
	case <-time.After(testing.LongWait):
		c.Fatalf("timed out waiting for callback")
	}
	panic("unreachable")
}

func (o outcomes) none(c *gc.C) {
	select {
	case out := <-o:
		c.Fatalf("unexpected callback %#v", out)
	case <-time.After(testing.ShortWait):
	}
}

func isKind(kind rpc.Kind) gomock.Matcher {
	return gomock.Cond(func(x any) bool {
		return x.(*rpc.Envelope).Kind == kind
	})
}

func isCall(method string) gomock.Matcher {
	return gomock.Cond(func(x any) bool {
		env := x.(*rpc.Envelope)
		return env.Kind == rpc.KindCall && env.Method == method
	})
}

func isCallWith(method string, arg interface{}) gomock.Matcher {
	return gomock.Cond(func(x any) bool {
		env := x.(*rpc.Envelope)
		values := env.Args.OrderedValues()
		return env.Kind == rpc.KindCall && env.Method == method && len(values) == 1 && values[0] == arg
	})
}

func descriptorOutcome() rpc.Outcome {
	return rpc.Outcome{Body: []byte(descriptorJS)}
}

// reply returns an invoker action answering a call with the given JSON
// result.
func reply(result string) func(context.Context, *rpc.Envelope) rpc.Outcome {
	return func(_ context.Context, env *rpc.Envelope) rpc.Outcome {
		return rpc.Outcome{Body: []byte(fmt.Sprintf(
			`{"type":"rpc","tid":%d,"action":%q,"method":%q,"result":%s}`,
			env.TID, env.Action, env.Method, result,
		))}
	}
}

// echo answers a call with its first argument.
func echo(_ context.Context, env *rpc.Envelope) rpc.Outcome {
	data, _ := json.Marshal(env.Args.OrderedValues()[0])
	return reply(string(data))(context.TODO(), env)
}

func (s *clientSuite) TestNewClientRequiresHost(c *gc.C) {
	_, err := api.NewClient(api.Config{})
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
	c.Assert(err, gc.ErrorMatches, "missing Host not valid")
}

func (s *clientSuite) TestDefaultPort(c *gc.C) {
	defer s.setupMocks(c).Finish()
	client := s.newClient(c, api.Config{})
	defer client.Close()
	c.Assert(client.Addr(), gc.Equals, "localhost:80")
	c.Assert(client.ID(), gc.Not(gc.Equals), "")
}

func (s *clientSuite) TestCallFetchesDescriptorFirst(c *gc.C) {
	defer s.setupMocks(c).Finish()
	gomock.InOrder(
		s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindAPI)).DoAndReturn(
			func(_ context.Context, env *rpc.Envelope) rpc.Outcome {
				c.Check(env.URL, gc.Equals, "/extdirectapi")
				return descriptorOutcome()
			}),
		s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(
			func(ctx context.Context, env *rpc.Envelope) rpc.Outcome {
				c.Check(env.URL, gc.Equals, "/router")
				return echo(ctx, env)
			}),
	)
	client := s.newClient(c, api.Config{})
	defer client.Close()

	out := newOutcomes()
	err := client.Call(api.CallParams{
		Action: "Demo",
		Method: "echo",
		Args:   []interface{}{"hello"},
	}, out.callback)
	c.Assert(err, jc.ErrorIsNil)

	got := out.next(c)
	c.Assert(got.success, jc.IsTrue)
	c.Assert(got.result, gc.Equals, "hello")
	out.none(c)

	ready, err := client.Ready()
	c.Assert(ready, jc.IsTrue)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(client.APIDescriptor().PollURL, gc.Equals, "/events")
}

func (s *clientSuite) TestQueuedCallsDispatchInSubmissionOrder(c *gc.C) {
	defer s.setupMocks(c).Finish()
	release := make(chan struct{})
	var mu sync.Mutex
	sent := make(map[uint64]interface{})
	fetch := s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindAPI)).DoAndReturn(
		func(context.Context, *rpc.Envelope) rpc.Outcome {
			<-release
			return descriptorOutcome()
		})
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(
		func(ctx context.Context, env *rpc.Envelope) rpc.Outcome {
			mu.Lock()
			sent[env.TID] = env.Args.OrderedValues()[0]
			mu.Unlock()
			return echo(ctx, env)
		}).Times(3).After(fetch)
	client := s.newClient(c, api.Config{})
	defer client.Close()

	out := newOutcomes()
	for i := 1; i <= 3; i++ {
		err := client.Call(api.CallParams{
			Action: "Demo",
			Method: "echo",
			Args:   []interface{}{i},
		}, out.callback)
		c.Assert(err, jc.ErrorIsNil)
	}
	ready, err := client.Ready()
	c.Assert(ready, jc.IsFalse)
	c.Assert(err, jc.ErrorIsNil)

	close(release)
	results := make(map[interface{}]bool)
	for i := 1; i <= 3; i++ {
		got := out.next(c)
		c.Check(got.success, jc.IsTrue)
		results[got.result] = true
	}
	c.Assert(results, jc.DeepEquals, map[interface{}]bool{
		json.Number("1"): true,
		json.Number("2"): true,
		json.Number("3"): true,
	})

	// Transaction ids follow submission order.
	mu.Lock()
	defer mu.Unlock()
	c.Assert(sent, jc.DeepEquals, map[uint64]interface{}{1: 1, 2: 2, 3: 3})
}

func (s *clientSuite) TestQueuedCallsDoNotWaitForEachOther(c *gc.C) {
	defer s.setupMocks(c).Finish()
	release := make(chan struct{})
	unblock := make(chan struct{})
	fetch := s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindAPI)).DoAndReturn(
		func(context.Context, *rpc.Envelope) rpc.Outcome {
			<-release
			return descriptorOutcome()
		})
	s.invoker.EXPECT().Invoke(gomock.Any(), isCallWith("echo", "slow")).DoAndReturn(
		func(ctx context.Context, env *rpc.Envelope) rpc.Outcome {
			<-unblock
			return echo(ctx, env)
		}).After(fetch)
	s.invoker.EXPECT().Invoke(gomock.Any(), isCallWith("echo", "fast")).DoAndReturn(echo).After(fetch)
	client := s.newClient(c, api.Config{})
	defer client.Close()

	out := newOutcomes()
	for _, arg := range []string{"slow", "fast"} {
		err := client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{arg}}, out.callback)
		c.Assert(err, jc.ErrorIsNil)
	}
	close(release)

	// The second call completes while the first is still in flight.
	c.Assert(out.next(c).result, gc.Equals, "fast")
	out.none(c)
	close(unblock)
	c.Assert(out.next(c).result, gc.Equals, "slow")
}

func (s *clientSuite) TestQueuedCallbackCanWaitForAnotherCall(c *gc.C) {
	defer s.setupMocks(c).Finish()
	release := make(chan struct{})
	fetch := s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindAPI)).DoAndReturn(
		func(context.Context, *rpc.Envelope) rpc.Outcome {
			<-release
			return descriptorOutcome()
		})
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(echo).Times(3).After(fetch)
	client := s.newClient(c, api.Config{})
	defer client.Close()

	followUps := make(chan []rpc.Result, 1)
	err := client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{"first"}},
		func(interface{}, bool, error) {
			sig := api.NewSignal()
			err := client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{"then"}, Signal: sig}, nil)
			c.Check(err, jc.ErrorIsNil)
			ctx, cancel := context.WithTimeout(context.Background(), testing.LongWait)
			defer cancel()
			results, err := sig.Wait(ctx)
			c.Check(err, jc.ErrorIsNil)
			followUps <- results
		})
	c.Assert(err, jc.ErrorIsNil)
	out := newOutcomes()
	err = client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{"second"}}, out.callback)
	c.Assert(err, jc.ErrorIsNil)
	close(release)

	c.Assert(out.next(c).result, gc.Equals, "second")
	select {
	case results := <-followUps:
		c.Assert(results, jc.DeepEquals, []rpc.Result{rpc.Succeeded("then")})
	case <-time.After(testing.LongWait):
		c.Fatalf("follow-up call did not complete")
	}
}

func (s *clientSuite) TestTransactionIDsIncrease(c *gc.C) {
	defer s.setupMocks(c).Finish()
	var tids []uint64
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("ping")).DoAndReturn(
		func(ctx context.Context, env *rpc.Envelope) rpc.Outcome {
			tids = append(tids, env.TID)
			return reply("null")(ctx, env)
		}).Times(2)
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	out := newOutcomes()
	for i := 0; i < 2; i++ {
		err := client.Call(api.CallParams{Action: "Demo", Method: "ping", Args: []interface{}{}}, out.callback)
		c.Assert(err, jc.ErrorIsNil)
		got := out.next(c)
		c.Assert(got.success, jc.IsTrue)
		c.Assert(got.result, gc.IsNil)
	}
	c.Assert(tids, jc.DeepEquals, []uint64{1, 2})
}

func (s *clientSuite) TestPreSuppliedAPINeverFetches(c *gc.C) {
	defer s.setupMocks(c).Finish()
	// Any descriptor request would be an unexpected call.
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(echo)

	readyCalled := false
	client := s.newClient(c, api.Config{
		API:      descriptor(c),
		APIReady: func(bool, error) { readyCalled = true },
	})
	defer client.Close()
	ready, err := client.Ready()
	c.Assert(ready, jc.IsTrue)
	c.Assert(err, jc.ErrorIsNil)

	out := newOutcomes()
	err = client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{"x"}}, out.callback)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(out.next(c).result, gc.Equals, "x")
	c.Assert(readyCalled, jc.IsFalse)
}

func (s *clientSuite) TestBootstrapFailureFailsQueuedPolls(c *gc.C) {
	defer s.setupMocks(c).Finish()
	release := make(chan struct{})
	s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindAPI)).DoAndReturn(
		func(context.Context, *rpc.Envelope) rpc.Outcome {
			<-release
			return rpc.Outcome{Err: errors.New("connection refused")}
		}).Times(1)

	client := s.newClient(c, api.Config{})
	defer client.Close()

	out := newOutcomes()
	for i := 0; i < 3; i++ {
		err := client.Poll(api.PollParams{}, out.callback)
		c.Assert(err, jc.ErrorIsNil)
	}
	close(release)

	var texts []string
	for i := 0; i < 3; i++ {
		got := out.next(c)
		c.Check(got.success, jc.IsFalse)
		c.Check(got.err, jc.ErrorIs, api.ErrAPIUnavailable)
		texts = append(texts, got.err.Error())
	}
	c.Assert(texts[0], gc.Equals, "cannot retrieve API descriptor from localhost:80: connection refused")
	c.Assert(texts[1], gc.Equals, texts[0])
	c.Assert(texts[2], gc.Equals, texts[0])

	// Later work fails the same way, without touching the transport.
	err := client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{1}}, out.callback)
	c.Assert(err, jc.ErrorIsNil)
	got := out.next(c)
	c.Assert(got.success, jc.IsFalse)
	c.Assert(got.err.Error(), gc.Equals, texts[0])

	ready, err := client.Ready()
	c.Assert(ready, jc.IsFalse)
	c.Assert(err, jc.ErrorIs, api.ErrAPIUnavailable)
}

func (s *clientSuite) TestAPIReadyStartsBootstrap(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindAPI)).Return(
		rpc.Outcome{Err: errors.New("no route to host")})

	type readiness struct {
		ok  bool
		err error
	}
	readyc := make(chan readiness, 2)
	sig := api.NewSignal()
	client := s.newClient(c, api.Config{
		APIReady: func(ok bool, err error) { readyc <- readiness{ok, err} },
		Signal:   sig,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testing.LongWait)
	defer cancel()
	results, err := sig.Wait(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(results, gc.HasLen, 1)
	c.Assert(results[0].Success, jc.IsFalse)

	select {
	case r := <-readyc:
		c.Assert(r.ok, jc.IsFalse)
		c.Assert(r.err, gc.ErrorMatches, ".*no route to host")
		c.Assert(r.err.Error(), gc.Equals, results[0].Err.Error())
	case <-time.After(testing.LongWait):
		c.Fatalf("API ready callback not called")
	}
	select {
	case <-readyc:
		c.Fatalf("API ready callback called twice")
	case <-time.After(testing.ShortWait):
	}
}

func (s *clientSuite) TestSignalWithPreSuppliedAPI(c *gc.C) {
	defer s.setupMocks(c).Finish()
	sig := api.NewSignal()
	client := s.newClient(c, api.Config{API: descriptor(c), Signal: sig})
	defer client.Close()

	results, err := sig.Wait(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(results, gc.HasLen, 1)
	c.Assert(results[0].Value, gc.FitsTypeOf, &params.APIDescriptor{})
}

func (s *clientSuite) TestEmptyPollSucceeds(c *gc.C) {
	defer s.setupMocks(c).Finish()
	gomock.InOrder(
		s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindPoll)).Return(rpc.Outcome{Body: []byte(`[]`)}),
		s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindPoll)).Return(
			rpc.Outcome{Body: []byte(`{"type":"event","name":"__NONE__","data":""}`)}),
	)
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	for i := 0; i < 2; i++ {
		out := newOutcomes()
		err := client.Poll(api.PollParams{}, out.callback)
		c.Assert(err, jc.ErrorIsNil)
		got := out.next(c)
		c.Check(got.success, jc.IsTrue)
		c.Check(got.result, jc.DeepEquals, []params.Event{})
	}
}

func (s *clientSuite) TestPollEvents(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindPoll)).DoAndReturn(
		func(_ context.Context, env *rpc.Envelope) rpc.Outcome {
			c.Check(env.URL, gc.Equals, "/events")
			c.Check(env.TID, gc.Not(gc.Equals), uint64(0))
			return rpc.Outcome{Body: []byte(`[
				{"type":"event","name":"tick","data":1},
				{"type":"event","name":"list","data":["a","b"]},
				{"type":"event","name":"map","data":{"k":"v"}}
			]`)}
		})
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	out := newOutcomes()
	err := client.Poll(api.PollParams{}, out.callback)
	c.Assert(err, jc.ErrorIsNil)
	got := out.next(c)
	c.Assert(got.success, jc.IsTrue)
	c.Assert(got.result, jc.DeepEquals, []params.Event{
		{Name: "tick", Data: json.Number("1")},
		{Name: "list", Data: []interface{}{"a", "b"}},
		{Name: "map", Data: map[string]interface{}{"k": "v"}},
	})
}

func (s *clientSuite) TestPollFallsBackToConfiguredPath(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindPoll)).DoAndReturn(
		func(_ context.Context, env *rpc.Envelope) rpc.Outcome {
			c.Check(env.URL, gc.Equals, "/extdirectevents")
			return rpc.Outcome{Body: []byte(`[]`)}
		})
	d := descriptor(c)
	d.PollURL = ""
	client := s.newClient(c, api.Config{API: d})
	defer client.Close()

	out := newOutcomes()
	c.Assert(client.Poll(api.PollParams{}, out.callback), jc.ErrorIsNil)
	c.Assert(out.next(c).success, jc.IsTrue)
}

func (s *clientSuite) TestSynchronousCallerErrors(c *gc.C) {
	defer s.setupMocks(c).Finish()
	// No transport call is expected for any of these.
	client := s.newClient(c, api.Config{})
	defer client.Close()
	out := newOutcomes()

	err := client.Submit(api.SubmitParams{Action: "Demo", Method: "upload"}, out.callback)
	c.Check(err, jc.Satisfies, errors.IsNotValid)
	c.Check(err, gc.ErrorMatches, "form submission to Demo.upload without arguments or uploads not valid")

	err = client.Call(api.CallParams{
		Action:    "Demo",
		Method:    "echo",
		Args:      []interface{}{1},
		NamedArgs: map[string]interface{}{"a": 1},
	}, out.callback)
	c.Check(err, jc.Satisfies, errors.IsNotValid)
	c.Check(err, gc.ErrorMatches, "calling Demo.echo: both ordered and named arguments not valid")

	err = client.Call(api.CallParams{Action: "Demo", Method: "echo"}, out.callback)
	c.Check(err, jc.Satisfies, errors.IsNotValid)

	err = client.Call(api.CallParams{Method: "echo", Args: []interface{}{}}, out.callback)
	c.Check(err, gc.ErrorMatches, "empty action not valid")

	err = client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{1}}, nil)
	c.Check(err, gc.ErrorMatches, "missing callback not valid")

	err = client.Poll(api.PollParams{}, nil)
	c.Check(err, gc.ErrorMatches, "missing callback not valid")

	out.none(c)
	ready, err := client.Ready()
	c.Assert(ready, jc.IsFalse)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *clientSuite) TestRemoteException(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).Return(rpc.Outcome{
		Body: []byte(`{"type":"exception","tid":1,"message":"division by zero","where":"Demo.pm:12"}`),
	})
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	out := newOutcomes()
	err := client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{0}}, out.callback)
	c.Assert(err, jc.ErrorIsNil)
	got := out.next(c)
	c.Assert(got.success, jc.IsFalse)
	c.Assert(got.err, gc.ErrorMatches, "division by zero")
	c.Assert(rpc.IsRequestError(got.err), jc.IsTrue)
	var reqErr *rpc.RequestError
	c.Assert(errors.As(got.err, &reqErr), jc.IsTrue)
	c.Assert(reqErr.Where, gc.Equals, "Demo.pm:12")
}

func (s *clientSuite) TestTransportErrorOnlyAffectsItsCall(c *gc.C) {
	defer s.setupMocks(c).Finish()
	gomock.InOrder(
		s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).Return(rpc.Outcome{Err: errors.New("POST /router: 502 Bad Gateway")}),
		s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(echo),
	)
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	out := newOutcomes()
	c.Assert(client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{"a"}}, out.callback), jc.ErrorIsNil)
	got := out.next(c)
	c.Assert(got.success, jc.IsFalse)
	c.Assert(got.err, gc.ErrorMatches, "POST /router: 502 Bad Gateway")
	c.Assert(rpc.IsRequestError(got.err), jc.IsFalse)

	c.Assert(client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{"b"}}, out.callback), jc.ErrorIsNil)
	c.Assert(out.next(c).result, gc.Equals, "b")
}

func (s *clientSuite) TestMalformedResponseIsError(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindPoll)).Return(rpc.Outcome{Body: []byte(`<html>`)})
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	out := newOutcomes()
	c.Assert(client.Poll(api.PollParams{}, out.callback), jc.ErrorIsNil)
	got := out.next(c)
	c.Assert(got.success, jc.IsFalse)
	c.Assert(got.err, jc.ErrorIs, jsoncodec.ErrMalformed)
}

func (s *clientSuite) TestDescriptorValidationSkipsTransport(c *gc.C) {
	defer s.setupMocks(c).Finish()
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	out := newOutcomes()
	c.Assert(client.Call(api.CallParams{Action: "Demo", Method: "missing", Args: []interface{}{}}, out.callback), jc.ErrorIsNil)
	got := out.next(c)
	c.Assert(got.success, jc.IsFalse)
	c.Assert(got.err, jc.Satisfies, errors.IsNotFound)

	c.Assert(client.Call(api.CallParams{Action: "Demo", Method: "upload", NamedArgs: map[string]interface{}{}}, out.callback), jc.ErrorIsNil)
	got = out.next(c)
	c.Assert(got.err, gc.ErrorMatches, "call to form handler Demo.upload not valid")

	c.Assert(client.Call(api.CallParams{Action: "Demo", Method: "greet", NamedArgs: map[string]interface{}{}}, out.callback), jc.ErrorIsNil)
	got = out.next(c)
	c.Assert(got.err, gc.ErrorMatches, "Demo.greet requires arguments name")
}

func (s *clientSuite) TestEmptyOrderedArgsAreSent(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("ping")).DoAndReturn(
		func(ctx context.Context, env *rpc.Envelope) rpc.Outcome {
			data, err := jsoncodec.EncodeRequest(env.Request())
			c.Check(err, jc.ErrorIsNil)
			c.Check(string(data), jc.Contains, `"data":[]`)
			return reply(`"pong"`)(ctx, env)
		})
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	out := newOutcomes()
	c.Assert(client.Call(api.CallParams{Action: "Demo", Method: "ping", Args: []interface{}{}}, out.callback), jc.ErrorIsNil)
	c.Assert(out.next(c).result, gc.Equals, "pong")
}

func (s *clientSuite) TestSubmit(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindSubmit)).DoAndReturn(
		func(ctx context.Context, env *rpc.Envelope) rpc.Outcome {
			c.Check(env.URL, gc.Equals, "/router")
			c.Check(env.Uploads, gc.HasLen, 1)
			c.Check(env.Args.NamedValues(), jc.DeepEquals, map[string]interface{}{"title": "notes"})
			return reply(`{"stored":true}`)(ctx, env)
		})
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	out := newOutcomes()
	err := client.Submit(api.SubmitParams{
		Action:  "Demo",
		Method:  "upload",
		Args:    map[string]interface{}{"title": "notes"},
		Uploads: []rpc.Upload{{Filename: "notes.txt", Data: []byte("hi")}},
	}, out.callback)
	c.Assert(err, jc.ErrorIsNil)
	got := out.next(c)
	c.Assert(got.success, jc.IsTrue)
	c.Assert(got.result, jc.DeepEquals, map[string]interface{}{"stored": true})
}

func (s *clientSuite) TestCookiesAndOptionsMerged(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(
		func(ctx context.Context, env *rpc.Envelope) rpc.Outcome {
			c.Check(env.Cookies, jc.DeepEquals, map[string]string{"session": "override", "lang": "en"})
			c.Check(env.Options[httptransport.OptionKeepAlive], gc.Equals, false)
			c.Check(env.Options[httptransport.OptionUserAgent], gc.Equals, "custom")
			c.Check(env.Options[httptransport.OptionTimeout], gc.Equals, "2s")
			return echo(ctx, env)
		})
	clientCookies := map[string]string{"session": "abc", "lang": "en"}
	client := s.newClient(c, api.Config{
		API:     descriptor(c),
		Cookies: clientCookies,
		Options: rpc.Options{httptransport.OptionUserAgent: "custom"},
	})
	defer client.Close()

	callCookies := map[string]string{"session": "override"}
	out := newOutcomes()
	err := client.Call(api.CallParams{
		Action:  "Demo",
		Method:  "echo",
		Args:    []interface{}{1},
		Cookies: callCookies,
		Options: rpc.Options{httptransport.OptionTimeout: "2s"},
	}, out.callback)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(out.next(c).success, jc.IsTrue)

	// Neither input was modified.
	c.Assert(clientCookies, jc.DeepEquals, map[string]string{"session": "abc", "lang": "en"})
	c.Assert(callCookies, jc.DeepEquals, map[string]string{"session": "override"})
}

func (s *clientSuite) TestSignalFiresAfterCallback(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(echo).Times(2)
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	sig := api.NewSignal()
	callbacks := make(chan int, 2)
	for i := 0; i < 2; i++ {
		err := client.Call(api.CallParams{
			Action: "Demo",
			Method: "echo",
			Args:   []interface{}{i},
			Signal: sig,
		}, func(interface{}, bool, error) {
			// The signal has not seen this completion yet.
			c.Check(sig.Pending() > 0, jc.IsTrue)
			callbacks <- 1
		})
		c.Assert(err, jc.ErrorIsNil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testing.LongWait)
	defer cancel()
	results, err := sig.Wait(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(results, gc.HasLen, 2)
	c.Assert(callbacks, gc.HasLen, 2)
	for _, res := range results {
		c.Check(res.Success, jc.IsTrue)
	}
}

func (s *clientSuite) TestSignalWithoutCallback(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(echo)
	client := s.newClient(c, api.Config{API: descriptor(c)})
	defer client.Close()

	sig := api.NewSignal()
	err := client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{"only"}, Signal: sig}, nil)
	c.Assert(err, jc.ErrorIsNil)

	ctx, cancel := context.WithTimeout(context.Background(), testing.LongWait)
	defer cancel()
	results, err := sig.Wait(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(results, jc.DeepEquals, []rpc.Result{rpc.Succeeded("only")})
}

func (s *clientSuite) TestCallbackPanicDoesNotStopDrain(c *gc.C) {
	defer s.setupMocks(c).Finish()
	fetch := s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindAPI)).Return(descriptorOutcome())
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(echo).Times(2).After(fetch)
	client := s.newClient(c, api.Config{})
	defer client.Close()

	err := client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{1}},
		func(interface{}, bool, error) { panic("oops") })
	c.Assert(err, jc.ErrorIsNil)
	out := newOutcomes()
	err = client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{2}}, out.callback)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(out.next(c).success, jc.IsTrue)
}

func (s *clientSuite) TestCloseRejectsNewWork(c *gc.C) {
	defer s.setupMocks(c).Finish()
	client := s.newClient(c, api.Config{API: descriptor(c)})
	c.Assert(client.Close(), jc.ErrorIsNil)
	c.Assert(client.Close(), jc.ErrorIsNil)

	out := newOutcomes()
	err := client.Poll(api.PollParams{}, out.callback)
	c.Assert(err, jc.ErrorIs, api.ErrClosed)
	out.none(c)
}

func (s *clientSuite) TestCloseWaitsForQueuedWork(c *gc.C) {
	defer s.setupMocks(c).Finish()
	gomock.InOrder(
		s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindAPI)).Return(descriptorOutcome()),
		s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindPoll)).Return(rpc.Outcome{Body: []byte(`[]`)}),
	)
	client := s.newClient(c, api.Config{})
	out := newOutcomes()
	c.Assert(client.Poll(api.PollParams{}, out.callback), jc.ErrorIsNil)
	c.Assert(client.Close(), jc.ErrorIsNil)
	select {
	case got := <-out:
		c.Assert(got.success, jc.IsTrue)
	default:
		c.Fatalf("Close returned before queued work completed")
	}
}

func (s *clientSuite) TestMetrics(c *gc.C) {
	defer s.setupMocks(c).Finish()
	gomock.InOrder(
		s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(echo),
		s.invoker.EXPECT().Invoke(gomock.Any(), isKind(rpc.KindPoll)).Return(rpc.Outcome{Err: errors.New("timeout")}),
	)
	collector := api.NewMetricsCollector()
	client := s.newClient(c, api.Config{API: descriptor(c), Metrics: collector})
	defer client.Close()

	out := newOutcomes()
	c.Assert(client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{1}}, out.callback), jc.ErrorIsNil)
	out.next(c)
	c.Assert(client.Poll(api.PollParams{}, out.callback), jc.ErrorIsNil)
	out.next(c)

	c.Assert(testutil.CollectAndCount(collector, "extdirect_client_requests_total"), gc.Equals, 2)
	c.Assert(testutil.CollectAndCount(collector, "extdirect_client_request_duration_seconds"), gc.Equals, 2)
	c.Assert(testutil.CollectAndCount(collector, "extdirect_client_api_state"), gc.Equals, 1)
}

func (s *clientSuite) TestTracing(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.invoker.EXPECT().Invoke(gomock.Any(), isCall("echo")).DoAndReturn(echo)
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	client := s.newClient(c, api.Config{API: descriptor(c), Tracer: tp.Tracer("test")})
	defer client.Close()

	out := newOutcomes()
	err := client.Call(api.CallParams{Action: "Demo", Method: "echo", Args: []interface{}{"x"}}, out.callback)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(out.next(c).success, jc.IsTrue)

	spans := exporter.GetSpans()
	c.Assert(spans, gc.HasLen, 1)
	c.Assert(spans[0].Name, gc.Equals, "extdirect call")
	c.Assert(spans[0].SpanKind, gc.Equals, trace.SpanKindClient)
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}
	c.Assert(attrs["extdirect.action"].AsString(), gc.Equals, "Demo")
	c.Assert(attrs["extdirect.method"].AsString(), gc.Equals, "echo")
	c.Assert(attrs["extdirect.tid"].AsInt64(), gc.Equals, int64(1))
}
