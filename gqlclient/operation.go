package gqlclient

import (
	"context"

	"github.com/bhoriuchi/graphql-go-cable/metadata"
	"github.com/bhoriuchi/graphql-go-cable/utils"
	"github.com/graphql-go/graphql/language/ast"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Operation is one GraphQL request travelling through a link chain
type Operation struct {
	Query         *ast.Document
	Variables     map[string]interface{}
	OperationName string
	// OperationID identifies a persisted operation
	OperationID string
	Extensions  map[string]interface{}

	ctx context.Context
}

// NewOperation parses the request into an operation. The query may be
// omitted when the request names a persisted operation.
func NewOperation(ctx context.Context, request Request) (*Operation, error) {
	op := &Operation{
		Variables:     request.GetVariables(),
		OperationName: request.OperationName,
		OperationID:   request.OperationID,
		Extensions:    request.Extensions,
		ctx:           metadata.NewWithContext(ctx),
	}

	if request.Query == "" {
		if request.OperationID == "" {
			return nil, errors.New("request has neither a query nor an operation id")
		}
		return op, nil
	}

	doc, err := utils.ParseQuery(request.Query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse query")
	}
	op.Query = doc

	return op, nil
}

// Context returns the operation context, which always carries a metadata store
func (o *Operation) Context() context.Context {
	if o.ctx == nil {
		o.ctx = metadata.New()
	}
	return o.ctx
}

// WithContext returns a shallow copy of the operation using ctx
func (o *Operation) WithContext(ctx context.Context) *Operation {
	op := *o
	op.ctx = metadata.NewWithContext(ctx)
	return &op
}

// SetContextValue stores a value other links can read
func (o *Operation) SetContextValue(key string, value interface{}) bool {
	return metadata.Set(o.Context(), key, value)
}

// ContextValue reads a value stored with SetContextValue
func (o *Operation) ContextValue(key string) (interface{}, bool) {
	return metadata.Read(o.Context(), key)
}

// PrintedQuery returns the serialized query or nil when the operation has none
func (o *Operation) PrintedQuery() *string {
	if o.Query == nil {
		return nil
	}

	s, err := utils.PrintQuery(o.Query)
	if err != nil {
		return nil
	}
	return &s
}

// OperationType returns query, mutation or subscription. Operations without
// a document report an empty string.
func (o *Operation) OperationType() string {
	if o.Query == nil {
		return ""
	}

	def, err := utils.GetOperationAST(o.Query, o.OperationName)
	if err != nil {
		return ""
	}
	return def.Operation
}

// request converts the operation back into its wire form
func (o *Operation) request() Request {
	r := Request{
		OperationName: o.OperationName,
		Variables:     o.Variables,
		OperationID:   o.OperationID,
		Extensions:    o.Extensions,
	}
	if q := o.PrintedQuery(); q != nil {
		r.Query = *q
	}
	return r
}
