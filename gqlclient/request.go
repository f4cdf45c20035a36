package gqlclient

import (
	"bytes"
	"io"
	"net/http"
)

const defaultRequestTimeout = 10

// BeforeFunc modifies the request before it is sent
type BeforeFunc func(req *http.Request) error

// Request is the caller facing description of an operation
type Request struct {
	Query         string                 `json:"query,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables"`
	// OperationID identifies a persisted operation and may stand in for Query
	OperationID string                 `json:"id,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// GetQuery gets the query
func (r *Request) GetQuery() string {
	return r.Query
}

// GetOperationName gets the operation name
func (r *Request) GetOperationName() string {
	return r.OperationName
}

// GetVariables gets the variables
func (r *Request) GetVariables() map[string]interface{} {
	if r.Variables == nil {
		return map[string]interface{}{}
	}
	return r.Variables
}

// converts the request to an io.Reader
func (r *Request) toReader() (body io.Reader, err error) {
	var j []byte
	j, err = json.Marshal(r)
	if err != nil {
		return
	}

	body = bytes.NewBuffer(j)
	return
}
