package cableserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/bhoriuchi/graphql-go-cable/utils"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/pkg/errors"
)

// DefaultActionName is the channel action that carries operations
const DefaultActionName = "execute"

// GraphQLChannelOptions configures a GraphQLChannel
type GraphQLChannelOptions struct {
	Schema graphql.Schema
	// ActionName defaults to execute
	ActionName string
	// Persisted maps operation ids to documents
	Persisted map[string]string
	// ContextFunc builds the execution context of one operation
	ContextFunc func(c *Conn, identifier string) context.Context
	LogFunc     logger.LogFunc
}

// GraphQLChannel executes the operations performed on a channel against a
// graphql-go schema. Every result is transmitted as {result, more}; the
// last message of an operation has more set to false.
type GraphQLChannel struct {
	schema      graphql.Schema
	action      string
	persisted   map[string]string
	contextFunc func(c *Conn, identifier string) context.Context
	log         *logger.LogWrapper
	ops         *operations
}

// NewGraphQLChannel creates a channel
func NewGraphQLChannel(opts GraphQLChannelOptions) *GraphQLChannel {
	action := opts.ActionName
	if action == "" {
		action = DefaultActionName
	}

	return &GraphQLChannel{
		schema:      opts.Schema,
		action:      action,
		persisted:   opts.Persisted,
		contextFunc: opts.ContextFunc,
		log:         logger.NewLogWrapper(opts.LogFunc, map[string]interface{}{"server": "graphql-channel"}),
		ops:         newOperations(),
	}
}

// Config routes the message, unsubscribe and close hooks of base through the
// channel. Hooks already set on base still run.
func (g *GraphQLChannel) Config(base Config) Config {
	onMessage := base.OnMessage
	base.OnMessage = func(c *Conn, identifier string, data map[string]interface{}) {
		if onMessage != nil {
			onMessage(c, identifier, data)
		}
		g.execute(c, identifier, data)
	}

	onUnsubscribe := base.OnUnsubscribe
	base.OnUnsubscribe = func(c *Conn, identifier string) {
		if onUnsubscribe != nil {
			onUnsubscribe(c, identifier)
		}
		g.ops.remove(c, identifier)
	}

	onClose := base.OnClose
	base.OnClose = func(c *Conn) {
		if onClose != nil {
			onClose(c)
		}
		g.ops.removeAll(c)
	}

	return base
}

// Running returns the number of live subscription operations
func (g *GraphQLChannel) Running() int {
	return g.ops.count()
}

func (g *GraphQLChannel) execute(c *Conn, identifier string, data map[string]interface{}) {
	log := g.log.WithField("identifier", identifier)

	if action, _ := data["action"].(string); action != g.action {
		log.WithField("action", action).Debugf("ignoring unknown action")
		return
	}

	query, _ := data["query"].(string)
	operationName, _ := data["operationName"].(string)
	variables, _ := data["variables"].(map[string]interface{})

	if id, _ := data["operationId"].(string); id != "" && query == "" {
		persisted, ok := g.persisted[id]
		if !ok {
			g.fail(c, identifier, fmt.Errorf("unknown operation id %q", id))
			return
		}
		query = persisted
	}

	document, err := utils.ParseQuery(query)
	if err != nil {
		log.WithError(err).Errorf("failed to parse query")
		g.fail(c, identifier, errors.Wrap(err, "failed to parse query"))
		return
	}

	operation, err := utils.GetOperationAST(document, operationName)
	if err != nil {
		log.WithError(err).Errorf("failed to identify operation")
		g.fail(c, identifier, errors.Wrap(err, "failed to identify operation"))
		return
	}

	ctx := context.Background()
	if g.contextFunc != nil {
		ctx = g.contextFunc(c, identifier)
	}
	ctx, cancelFunc := context.WithCancel(ctx)

	params := graphql.Params{
		Schema:         g.schema,
		RequestString:  query,
		VariableValues: variables,
		OperationName:  operationName,
		Context:        ctx,
	}

	if operation.Operation != ast.OperationTypeSubscription {
		defer cancelFunc()
		g.transmit(c, identifier, graphql.Do(params), false)
		return
	}

	op, err := g.ops.add(c, identifier, cancelFunc)
	if err != nil {
		cancelFunc()
		log.WithError(err).Errorf("failed subscribe operation")
		g.fail(c, identifier, err)
		return
	}

	go g.stream(ctx, c, identifier, op, graphql.Subscribe(params), log)
	log.Tracef("subscription %q SUBSCRIBED", operationName)
}

// stream relays subscription results until the source closes or the
// operation is unsubscribed
func (g *GraphQLChannel) stream(ctx context.Context, c *Conn, identifier string, op *operation, results chan *graphql.Result, log *logger.LogWrapper) {
	defer g.ops.finish(c, identifier, op)

	for result := range results {
		if ctx.Err() != nil {
			continue
		}
		g.transmit(c, identifier, result, true)
	}

	if ctx.Err() != nil {
		log.Tracef("subscription unsubscribed")
		return
	}

	if err := c.Transmit(identifier, map[string]interface{}{"more": false}); err != nil {
		log.WithError(err).Debugf("failed to complete subscription")
	}
	log.Tracef("subscription COMPLETE")
}

func (g *GraphQLChannel) transmit(c *Conn, identifier string, result *graphql.Result, more bool) {
	if err := c.Transmit(identifier, map[string]interface{}{
		"result": result,
		"more":   more,
	}); err != nil {
		g.log.WithError(err).WithField("identifier", identifier).Debugf("failed to transmit result")
	}
}

func (g *GraphQLChannel) fail(c *Conn, identifier string, err error) {
	g.transmit(c, identifier, &graphql.Result{Errors: utils.GQLErrors(err)}, false)
}

type operationKey struct {
	conn       *Conn
	identifier string
}

type operation struct {
	cancelFunc context.CancelFunc
}

// operations tracks the running subscription operations
type operations struct {
	mx      sync.Mutex
	running map[operationKey]*operation
}

func newOperations() *operations {
	return &operations{running: map[operationKey]*operation{}}
}

func (m *operations) add(c *Conn, identifier string, cancelFunc context.CancelFunc) (*operation, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	key := operationKey{conn: c, identifier: identifier}
	if _, ok := m.running[key]; ok {
		return nil, fmt.Errorf("subscriber for %q already exists", identifier)
	}

	op := &operation{cancelFunc: cancelFunc}
	m.running[key] = op
	return op, nil
}

// finish forgets op once its stream ends
func (m *operations) finish(c *Conn, identifier string, op *operation) {
	m.mx.Lock()
	defer m.mx.Unlock()

	key := operationKey{conn: c, identifier: identifier}
	if m.running[key] == op {
		delete(m.running, key)
	}
	op.cancelFunc()
}

func (m *operations) remove(c *Conn, identifier string) {
	m.mx.Lock()
	defer m.mx.Unlock()

	key := operationKey{conn: c, identifier: identifier}
	if op, ok := m.running[key]; ok {
		op.cancelFunc()
		delete(m.running, key)
	}
}

func (m *operations) removeAll(c *Conn) {
	m.mx.Lock()
	defer m.mx.Unlock()

	for key, op := range m.running {
		if key.conn == c {
			op.cancelFunc()
			delete(m.running, key)
		}
	}
}

func (m *operations) count() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return len(m.running)
}
