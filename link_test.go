package cablelink_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"

	cablelink "github.com/bhoriuchi/graphql-go-cable"
	"github.com/bhoriuchi/graphql-go-cable/cable"
	"github.com/bhoriuchi/graphql-go-cable/gqlclient"
	"github.com/bhoriuchi/graphql-go-cable/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type performed struct {
	action string
	data   map[string]interface{}
}

type fakeChannel struct {
	mx           sync.Mutex
	performs     []performed
	unsubscribes int32
}

func (c *fakeChannel) Identifier() string { return "fake" }

func (c *fakeChannel) Perform(action string, data map[string]interface{}) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.performs = append(c.performs, performed{action: action, data: data})
	return nil
}

func (c *fakeChannel) Unsubscribe() error {
	atomic.AddInt32(&c.unsubscribes, 1)
	return nil
}

func (c *fakeChannel) Performed() []performed {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]performed(nil), c.performs...)
}

func (c *fakeChannel) Unsubscribes() int32 {
	return atomic.LoadInt32(&c.unsubscribes)
}

type subscribeCall struct {
	params  cable.Params
	handler cable.Handler
	channel *fakeChannel
}

type fakeClient struct {
	mx    sync.Mutex
	calls []*subscribeCall
	err   error
}

func (f *fakeClient) Subscribe(params cable.Params, handler cable.Handler) (cable.Channel, error) {
	f.mx.Lock()
	defer f.mx.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	call := &subscribeCall{params: params, handler: handler, channel: &fakeChannel{}}
	f.calls = append(f.calls, call)
	return call.channel, nil
}

func (f *fakeClient) last(t *testing.T) *subscribeCall {
	t.Helper()
	f.mx.Lock()
	defer f.mx.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func (c *subscribeCall) connect()    { c.handler.Connected(c.channel) }
func (c *subscribeCall) disconnect() { c.handler.Disconnected(c.channel, cable.DisconnectEvent{WillReconnect: true}) }
func (c *subscribeCall) receive(t *testing.T, payload string) {
	t.Helper()
	require.True(t, json.Valid([]byte(payload)))
	c.handler.Received(c.channel, json.RawMessage(payload))
}

type collector struct {
	results   []*gqlclient.Result
	errs      []error
	completed int
}

func (c *collector) observer() gqlclient.Observer {
	return gqlclient.Observer{
		Next:     func(r *gqlclient.Result) { c.results = append(c.results, r) },
		Error:    func(err error) { c.errs = append(c.errs, err) },
		Complete: func() { c.completed++ },
	}
}

func newOperation(t *testing.T, request gqlclient.Request) *gqlclient.Operation {
	t.Helper()
	op, err := gqlclient.NewOperation(context.Background(), request)
	require.NoError(t, err)
	return op
}

func noNext(t *testing.T) gqlclient.NextLink {
	return func(op *gqlclient.Operation) *gqlclient.Observable {
		t.Fatal("the cable link must not forward operations")
		return nil
	}
}

func TestRequestIsLazy(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)

	obs := link.Request(newOperation(t, gqlclient.Request{Query: `{ a }`}), noNext(t))
	assert.Empty(t, client.calls)

	obs.Subscribe(gqlclient.Observer{})
	assert.Len(t, client.calls, 1)
}

func TestChannelIDsAreUniqueHex(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)
	op := newOperation(t, gqlclient.Request{Query: `{ a }`})

	hexID := regexp.MustCompile(`^[0-9a-f]{32}$`)
	seen := map[string]struct{}{}

	const n = 2000
	for i := 0; i < n; i++ {
		link.Request(op, noNext(t)).Subscribe(gqlclient.Observer{})
	}

	require.Len(t, client.calls, n)
	for _, call := range client.calls {
		id, ok := call.params["channelId"].(string)
		require.True(t, ok)
		assert.Regexp(t, hexID, id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestDefaultsAndStaticConnectionParams(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client,
		cablelink.WithConnectionParams(map[string]interface{}{"token": "abc", "version": 2}),
		cablelink.WithChannelIDFunc(func() string { return "fixed" }),
	)

	link.Request(newOperation(t, gqlclient.Request{Query: `{ a }`}), noNext(t)).Subscribe(gqlclient.Observer{})

	assert.Equal(t, cable.Params{
		"channel":   "GraphqlChannel",
		"channelId": "fixed",
		"token":     "abc",
		"version":   2,
	}, client.last(t).params)
}

func TestConnectionParamsOverrideCollidingKeys(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client,
		cablelink.WithChannelName("CustomChannel"),
		cablelink.WithConnectionParams(map[string]interface{}{"channel": "OtherChannel"}),
	)

	link.Request(newOperation(t, gqlclient.Request{Query: `{ a }`}), noNext(t)).Subscribe(gqlclient.Observer{})
	assert.Equal(t, "OtherChannel", client.last(t).params["channel"])
}

func TestConnectionParamsFuncGetsTheOperation(t *testing.T) {
	client := &fakeClient{}
	op := newOperation(t, gqlclient.Request{Query: `{ a }`})
	op.SetContextValue("token", "per-operation")

	var got *gqlclient.Operation
	link := cablelink.New(client, cablelink.WithConnectionParamsFunc(func(o *gqlclient.Operation) map[string]interface{} {
		got = o
		token, _ := o.ContextValue("token")
		return map[string]interface{}{"token": token}
	}))

	link.Request(op, noNext(t)).Subscribe(gqlclient.Observer{})

	assert.Same(t, op, got)
	params := client.last(t).params
	assert.Equal(t, "per-operation", params["token"])
	assert.Equal(t, "GraphqlChannel", params["channel"])
	assert.NotEmpty(t, params["channelId"])
}

func TestConnectedPerformsAction(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client, cablelink.WithActionName("run"))

	op := newOperation(t, gqlclient.Request{
		Query:         `query Hello($name: String) { hello(name: $name) }`,
		OperationName: "Hello",
		Variables:     map[string]interface{}{"name": "cable"},
		OperationID:   "persisted-1",
	})
	printed, err := utils.PrintQuery(op.Query)
	require.NoError(t, err)

	link.Request(op, noNext(t)).Subscribe(gqlclient.Observer{})
	call := client.last(t)
	assert.Empty(t, call.channel.Performed())

	call.connect()

	performs := call.channel.Performed()
	require.Len(t, performs, 1)
	assert.Equal(t, "run", performs[0].action)
	assert.Equal(t, map[string]interface{}{
		"query":         printed,
		"variables":     map[string]interface{}{"name": "cable"},
		"operationId":   "persisted-1",
		"operationName": "Hello",
	}, performs[0].data)
}

func TestConnectedWithoutQuery(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)

	op := newOperation(t, gqlclient.Request{OperationID: "persisted-2", OperationName: "Saved"})
	link.Request(op, noNext(t)).Subscribe(gqlclient.Observer{})

	call := client.last(t)
	call.connect()

	data := call.channel.Performed()[0].data
	query, ok := data["query"]
	assert.True(t, ok)
	assert.Nil(t, query)
	assert.Equal(t, "persisted-2", data["operationId"])
	assert.Equal(t, "execute", call.channel.Performed()[0].action)

	plain := newOperation(t, gqlclient.Request{Query: `{ a }`})
	link.Request(plain, noNext(t)).Subscribe(gqlclient.Observer{})
	client.last(t).connect()
	assert.NotContains(t, client.last(t).channel.Performed()[0].data, "operationId")
}

func TestReconnectedFlagIsPerOperation(t *testing.T) {
	client := &fakeClient{}

	var mx sync.Mutex
	var connected []bool
	disconnects := 0
	link := cablelink.New(client,
		cablelink.WithOnConnected(func(reconnected bool) {
			mx.Lock()
			connected = append(connected, reconnected)
			mx.Unlock()
		}),
		cablelink.WithOnDisconnected(func() { disconnects++ }),
	)

	link.Request(newOperation(t, gqlclient.Request{Query: `{ a }`}), noNext(t)).Subscribe(gqlclient.Observer{})
	first := client.last(t)
	link.Request(newOperation(t, gqlclient.Request{Query: `{ b }`}), noNext(t)).Subscribe(gqlclient.Observer{})
	second := client.last(t)

	first.connect()
	first.disconnect()
	second.connect()
	first.connect()
	first.connect()

	assert.Equal(t, 1, disconnects)
	// the second operation never lost its connection
	assert.Equal(t, []bool{false, false, true, false}, connected)

	// every connect replays the action
	assert.Len(t, first.channel.Performed(), 3)
}

func TestSetCallbacks(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)

	var got []bool
	link.SetOnConnected(func(reconnected bool) { got = append(got, reconnected) })
	disconnected := false
	link.SetOnDisconnected(func() { disconnected = true })

	link.Request(newOperation(t, gqlclient.Request{Query: `{ a }`}), noNext(t)).Subscribe(gqlclient.Observer{})
	call := client.last(t)
	call.connect()
	call.disconnect()
	call.connect()

	assert.True(t, disconnected)
	assert.Equal(t, []bool{false, true}, got)
}

func TestReceivedForwardsUntilNoMore(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)

	var c collector
	sub := link.Request(newOperation(t, gqlclient.Request{Query: `subscription { ticks }`}), noNext(t)).Subscribe(c.observer())
	call := client.last(t)
	call.connect()

	call.receive(t, `{"result":{"data":{"ticks":1}},"more":true}`)
	require.Len(t, c.results, 1)
	assert.Equal(t, map[string]interface{}{"ticks": float64(1)}, c.results[0].Data)
	assert.False(t, sub.Closed())
	assert.Equal(t, int32(0), call.channel.Unsubscribes())

	call.receive(t, `{"result":{"data":{"ticks":2}},"more":false}`)
	require.Len(t, c.results, 2)
	assert.Equal(t, 1, c.completed)
	assert.True(t, sub.Closed())
	assert.Equal(t, int32(1), call.channel.Unsubscribes())

	// nothing is delivered after completion
	call.receive(t, `{"result":{"data":{"ticks":3}},"more":true}`)
	assert.Len(t, c.results, 2)
}

func TestReceivedCompletionWithoutResult(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)

	var c collector
	link.Request(newOperation(t, gqlclient.Request{Query: `{ a }`}), noNext(t)).Subscribe(c.observer())
	call := client.last(t)

	call.receive(t, `{"more":false}`)
	assert.Empty(t, c.results)
	assert.Equal(t, 1, c.completed)
}

func TestReceivedDropsEmptyResults(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)

	var c collector
	sub := link.Request(newOperation(t, gqlclient.Request{Query: `{ a }`}), noNext(t)).Subscribe(c.observer())
	call := client.last(t)

	call.receive(t, `{"result":{},"more":true}`)
	call.receive(t, `{"result":{"data":null},"more":true}`)
	call.receive(t, `{"result":{"extensions":{"x":1}},"more":true}`)
	call.receive(t, `{"more":true}`)

	assert.Empty(t, c.results)
	assert.Equal(t, 0, c.completed)
	assert.False(t, sub.Closed())

	// an absent more flag still ends the stream
	call.receive(t, `{"result":{}}`)
	assert.Equal(t, 1, c.completed)
}

func TestReceivedPassesErrorsThrough(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)

	var c collector
	link.Request(newOperation(t, gqlclient.Request{Query: `{ a }`}), noNext(t)).Subscribe(c.observer())
	call := client.last(t)

	call.receive(t, `{"result":{"errors":[{"message":"not allowed","path":["a"]}]},"more":false}`)

	require.Len(t, c.results, 1)
	require.Len(t, c.results[0].Errors, 1)
	assert.Equal(t, "not allowed", c.results[0].Errors[0].Message)
	assert.Equal(t, []interface{}{"a"}, c.results[0].Errors[0].Path)
	assert.Nil(t, c.results[0].Data)
	assert.Empty(t, c.errs)
	assert.Equal(t, 1, c.completed)
}

func TestUnsubscribeReleasesChannelOnce(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)

	var c collector
	sub := link.Request(newOperation(t, gqlclient.Request{Query: `subscription { ticks }`}), noNext(t)).Subscribe(c.observer())
	call := client.last(t)
	call.connect()

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, int32(1), call.channel.Unsubscribes())

	call.receive(t, `{"result":{"data":{"ticks":1}},"more":false}`)
	assert.Empty(t, c.results)
	assert.Equal(t, 0, c.completed)
	assert.Equal(t, int32(1), call.channel.Unsubscribes())
}

func TestDisconnectDoesNotEndTheStream(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)

	var c collector
	sub := link.Request(newOperation(t, gqlclient.Request{Query: `subscription { ticks }`}), noNext(t)).Subscribe(c.observer())
	call := client.last(t)
	call.connect()
	call.handler.Disconnected(call.channel, cable.DisconnectEvent{WillReconnect: false})

	assert.False(t, sub.Closed())
	assert.Empty(t, c.errs)
	assert.Equal(t, 0, c.completed)
}

func TestSubscribeFailureIsSurfaced(t *testing.T) {
	boom := errors.New("consumer is closed")
	link := cablelink.New(&fakeClient{err: boom})

	var c collector
	sub := link.Request(newOperation(t, gqlclient.Request{Query: `{ a }`}), noNext(t)).Subscribe(c.observer())

	require.Len(t, c.errs, 1)
	assert.Equal(t, boom, c.errs[0])
	assert.True(t, sub.Closed())
}

func TestRejectedSubscriptionFailsOperation(t *testing.T) {
	client := &fakeClient{}
	link := cablelink.New(client)

	var c collector
	sub := link.Request(newOperation(t, gqlclient.Request{Query: `{ a }`}), noNext(t)).Subscribe(c.observer())
	call := client.last(t)

	rejecter, ok := call.handler.(cable.Rejecter)
	require.True(t, ok)
	rejecter.Rejected(call.channel)

	require.Len(t, c.errs, 1)
	assert.Equal(t, cablelink.ErrSubscriptionRejected, c.errs[0])
	assert.Equal(t, 0, c.completed)
	assert.True(t, sub.Closed())
	assert.Equal(t, int32(1), call.channel.Unsubscribes())
}
