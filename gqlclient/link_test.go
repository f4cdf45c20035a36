package gqlclient_test

import (
	"context"
	"testing"

	"github.com/bhoriuchi/graphql-go-cable/gqlclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticLink(name string) gqlclient.Link {
	return gqlclient.LinkFunc(func(op *gqlclient.Operation, next gqlclient.NextLink) *gqlclient.Observable {
		return gqlclient.NewObservable(func(e *gqlclient.Emitter) gqlclient.TeardownFunc {
			e.Next(&gqlclient.Result{Data: name})
			e.Complete()
			return nil
		})
	})
}

func mustOperation(t *testing.T, query string) *gqlclient.Operation {
	op, err := gqlclient.NewOperation(context.Background(), gqlclient.Request{Query: query})
	require.NoError(t, err)
	return op
}

func TestFromPassesThroughMiddleware(t *testing.T) {
	auth := gqlclient.LinkFunc(func(op *gqlclient.Operation, next gqlclient.NextLink) *gqlclient.Observable {
		op.SetContextValue("token", "abc")
		return next(op)
	})

	var seen interface{}
	terminal := gqlclient.LinkFunc(func(op *gqlclient.Operation, next gqlclient.NextLink) *gqlclient.Observable {
		seen, _ = op.ContextValue("token")
		return staticLink("done").Request(op, next)
	})

	result, err := gqlclient.Execute(gqlclient.From(auth, terminal), mustOperation(t, `{ a }`)).First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", result.Data)
	assert.Equal(t, "abc", seen)
}

func TestFromWithoutTerminatingLink(t *testing.T) {
	forward := gqlclient.LinkFunc(func(op *gqlclient.Operation, next gqlclient.NextLink) *gqlclient.Observable {
		return next(op)
	})

	_, err := gqlclient.Execute(gqlclient.From(forward), mustOperation(t, `{ a }`)).First(context.Background())
	assert.Equal(t, gqlclient.ErrNoTerminatingLink, err)
}

func TestSplitOnSubscription(t *testing.T) {
	link := gqlclient.Split(gqlclient.IsSubscription, staticLink("cable"), staticLink("http"))

	result, err := gqlclient.Execute(link, mustOperation(t, `subscription { ticks }`)).First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cable", result.Data)

	result, err = gqlclient.Execute(link, mustOperation(t, `mutation { bump }`)).First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http", result.Data)
}

func TestOperation(t *testing.T) {
	op, err := gqlclient.NewOperation(context.Background(), gqlclient.Request{
		Query:         `query Hello($n: Int) { hello(n: $n) }`,
		OperationName: "Hello",
		Variables:     map[string]interface{}{"n": 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "query", op.OperationType())
	require.NotNil(t, op.PrintedQuery())
	assert.Contains(t, *op.PrintedQuery(), "query Hello($n: Int)")

	persisted, err := gqlclient.NewOperation(context.Background(), gqlclient.Request{OperationID: "abc123"})
	require.NoError(t, err)
	assert.Nil(t, persisted.PrintedQuery())
	assert.Equal(t, "", persisted.OperationType())
	assert.Equal(t, map[string]interface{}{}, persisted.Variables)

	_, err = gqlclient.NewOperation(context.Background(), gqlclient.Request{})
	assert.Error(t, err)

	_, err = gqlclient.NewOperation(context.Background(), gqlclient.Request{Query: `{ broken`})
	assert.Error(t, err)
}
