package cablelink_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	cablelink "github.com/bhoriuchi/graphql-go-cable"
	"github.com/bhoriuchi/graphql-go-cable/cable"
	"github.com/bhoriuchi/graphql-go-cable/cable/cableserver"
	"github.com/bhoriuchi/graphql-go-cable/gqlclient"
	"github.com/bhoriuchi/graphql-go-cable/utils/backoff"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) graphql.Schema {
	t.Helper()

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name: "Query",
			Fields: graphql.Fields{
				"hello": &graphql.Field{
					Type: graphql.String,
					Args: graphql.FieldConfigArgument{
						"name": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: "world"},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return fmt.Sprintf("hello %s", p.Args["name"]), nil
					},
				},
				"boom": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return nil, errors.New("boom")
					},
				},
			},
		}),
		Subscription: graphql.NewObject(graphql.ObjectConfig{
			Name: "Subscription",
			Fields: graphql.Fields{
				"watch": &graphql.Field{
					Type: graphql.String,
					Args: graphql.FieldConfigArgument{
						"iterations": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 3},
						"waitMs":     &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 5},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return p.Source, nil
					},
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						iterations := p.Args["iterations"].(int)
						wait := time.Duration(p.Args["waitMs"].(int)) * time.Millisecond

						c := make(chan interface{})
						go func() {
							defer close(c)
							for i := 0; i < iterations; i++ {
								time.Sleep(wait)
								select {
								case <-p.Context.Done():
									return
								case c <- fmt.Sprintf("tick %d", i+1):
								}
							}
						}()
						return c, nil
					},
				},
			},
		}),
	})
	require.NoError(t, err)
	return schema
}

type stack struct {
	server   *cableserver.Server
	channel  *cableserver.GraphQLChannel
	consumer *cable.Consumer
	client   *gqlclient.Client
}

func newStack(t *testing.T, linkOpts ...cablelink.Option) *stack {
	t.Helper()

	channel := cableserver.NewGraphQLChannel(cableserver.GraphQLChannelOptions{
		Schema: testSchema(t),
		Persisted: map[string]string{
			"hello-persisted": `query Hello { hello(name: "persisted") }`,
		},
	})
	srv := cableserver.NewServer(channel.Config(cableserver.Config{}))
	t.Cleanup(srv.Close)

	consumer, err := cable.NewConsumer(srv.URL(),
		cable.WithPollInterval(20*time.Millisecond),
		cable.WithBackoff(&backoff.Options{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { consumer.Close() })

	client, err := gqlclient.NewClient(&gqlclient.Options{Link: cablelink.New(consumer, linkOpts...)})
	require.NoError(t, err)

	return &stack{server: srv, channel: channel, consumer: consumer, client: client}
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQueryOverCable(t *testing.T) {
	s := newStack(t)

	rsp, err := s.client.Request(timeout(t), gqlclient.Request{
		Query:         `query Hello($name: String) { hello(name: $name) }`,
		OperationName: "Hello",
		Variables:     map[string]interface{}{"name": "cable"},
	})
	require.NoError(t, err)
	assert.False(t, rsp.HasErrors())
	assert.Equal(t, map[string]interface{}{"hello": "hello cable"}, rsp.Data())

	// the channel subscription is released once the result is in
	assert.Eventually(t, func() bool {
		return len(s.server.CommandsOf(cable.CmdUnsubscribe)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.consumer.Subscriptions().Len())

	subscribes := s.server.CommandsOf(cable.CmdSubscribe)
	require.Len(t, subscribes, 1)
	messages := s.server.CommandsOf(cable.CmdMessage)
	require.Len(t, messages, 1)
	assert.Equal(t, "execute", messages[0].Data["action"])
	assert.Equal(t, "Hello", messages[0].Data["operationName"])
	assert.NotContains(t, messages[0].Data, "operationId")
}

func TestQueryErrorsOverCable(t *testing.T) {
	s := newStack(t)

	rsp, err := s.client.Request(timeout(t), gqlclient.Request{Query: `{ boom }`})
	require.NoError(t, err)
	require.True(t, rsp.HasErrors())
	assert.Equal(t, "boom", rsp.FirstError().Message)

	rsp, err = s.client.Request(timeout(t), gqlclient.Request{Query: `{ nope }`})
	require.NoError(t, err)
	assert.True(t, rsp.HasErrors())
	assert.Nil(t, rsp.Data())
}

func TestPersistedOperationOverCable(t *testing.T) {
	s := newStack(t)

	rsp, err := s.client.Request(timeout(t), gqlclient.Request{
		OperationID:   "hello-persisted",
		OperationName: "Hello",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"hello": "hello persisted"}, rsp.Data())

	messages := s.server.CommandsOf(cable.CmdMessage)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello-persisted", messages[0].Data["operationId"])
	query, ok := messages[0].Data["query"]
	assert.True(t, ok)
	assert.Nil(t, query)
}

func TestSubscriptionOverCable(t *testing.T) {
	s := newStack(t)

	results := make(chan *gqlclient.Result, 10)
	done := make(chan struct{})
	_, err := s.client.Subscribe(timeout(t), gqlclient.Request{
		Query: `subscription { watch(iterations: 3) }`,
	}, gqlclient.Observer{
		Next:     func(r *gqlclient.Result) { results <- r },
		Complete: func() { close(done) },
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not complete")
	}

	require.Len(t, results, 3)
	for i := 1; i <= 3; i++ {
		r := <-results
		assert.Equal(t, map[string]interface{}{"watch": fmt.Sprintf("tick %d", i)}, r.Data)
	}

	assert.Eventually(t, func() bool {
		return len(s.server.CommandsOf(cable.CmdUnsubscribe)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUnsubscribeStopsServerOperation(t *testing.T) {
	s := newStack(t)

	first := make(chan struct{}, 1)
	sub, err := s.client.Subscribe(timeout(t), gqlclient.Request{
		Query: `subscription { watch(iterations: 100000, waitMs: 5) }`,
	}, gqlclient.Observer{
		Next: func(r *gqlclient.Result) {
			select {
			case first <- struct{}{}:
			default:
			}
		},
	})
	require.NoError(t, err)

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("no result received")
	}
	assert.Equal(t, 1, s.channel.Running())

	sub.Unsubscribe()
	assert.True(t, sub.Closed())

	assert.Eventually(t, func() bool {
		return s.channel.Running() == 0 && len(s.server.CommandsOf(cable.CmdUnsubscribe)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubscriptionResumesAfterReconnect(t *testing.T) {
	connected := make(chan bool, 10)
	disconnected := make(chan struct{}, 10)
	s := newStack(t,
		cablelink.WithOnConnected(func(reconnected bool) { connected <- reconnected }),
		cablelink.WithOnDisconnected(func() { disconnected <- struct{}{} }),
	)

	results := make(chan *gqlclient.Result, 1000)
	sub, err := s.client.Subscribe(timeout(t), gqlclient.Request{
		Query: `subscription { watch(iterations: 100000, waitMs: 5) }`,
	}, gqlclient.Observer{
		Next: func(r *gqlclient.Result) {
			select {
			case results <- r:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	wait := func(what string, ch interface{}) {
		t.Helper()
		switch ch := ch.(type) {
		case chan bool:
			select {
			case reconnected := <-ch:
				assert.Equal(t, what == "reconnected", reconnected)
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %s", what)
			}
		case chan struct{}:
			select {
			case <-ch:
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %s", what)
			}
		case chan *gqlclient.Result:
			select {
			case <-ch:
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %s", what)
			}
		}
	}

	wait("connected", connected)
	wait("a result", results)

	s.server.Drop()
	wait("disconnected", disconnected)
	wait("reconnected", connected)

	// drain what arrived before the drop, then expect fresh results
	for len(results) > 0 {
		<-results
	}
	wait("a result after reconnecting", results)

	assert.False(t, sub.Closed())
	assert.Len(t, s.server.CommandsOf(cable.CmdMessage), 2)
	assert.GreaterOrEqual(t, s.server.ConnectionCount(), 2)
}

func TestRejectedSubscriptionOverCable(t *testing.T) {
	srv := cableserver.NewServer(cableserver.Config{
		OnSubscribe: func(c *cableserver.Conn, identifier string) bool { return false },
	})
	t.Cleanup(srv.Close)

	consumer, err := cable.NewConsumer(srv.URL())
	require.NoError(t, err)
	t.Cleanup(func() { consumer.Close() })

	client, err := gqlclient.NewClient(&gqlclient.Options{Link: cablelink.New(consumer)})
	require.NoError(t, err)

	_, err = client.Request(timeout(t), gqlclient.Request{Query: `{ hello }`})
	assert.Equal(t, cablelink.ErrSubscriptionRejected, err)
	assert.Equal(t, 0, consumer.Subscriptions().Len())
	assert.Empty(t, srv.CommandsOf(cable.CmdMessage))
}
