package gqlclient

import (
	"fmt"

	"github.com/bhoriuchi/graphql-go-cable/utils"
	"github.com/graphql-go/graphql/gqlerrors"
)

// Result is one GraphQL execution result as produced by a link
type Result struct {
	Data       interface{}               `json:"data,omitempty"`
	Errors     gqlerrors.FormattedErrors `json:"errors,omitempty"`
	Extensions map[string]interface{}    `json:"extensions,omitempty"`
}

// Response wraps a result for callers of the client
type Response struct {
	result *Result
}

// NewResponse wraps a result
func NewResponse(result *Result) *Response {
	if result == nil {
		result = &Result{}
	}
	return &Response{result: result}
}

// Result returns the underlying result
func (c *Response) Result() *Result {
	return c.result
}

// Data returns the data
func (c *Response) Data() interface{} {
	return c.result.Data
}

// Errors returns the errors
func (c *Response) Errors() gqlerrors.FormattedErrors {
	return c.result.Errors
}

// FirstError returns the first error
func (c *Response) FirstError() *gqlerrors.FormattedError {
	if c.HasErrors() {
		first := c.result.Errors[0]
		return &first
	}
	return nil
}

// HasErrors returns true if errors are present
func (c *Response) HasErrors() bool {
	return len(c.result.Errors) > 0
}

// Decode decodes the result data into the provided interface
func (c *Response) Decode(out interface{}) error {
	if c.result.Data == nil {
		return fmt.Errorf("no data to decode")
	}
	return utils.ReMarshal(c.result.Data, out)
}
