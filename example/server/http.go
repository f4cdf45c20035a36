package main

import (
	"net/http"

	"github.com/bhoriuchi/graphql-go-cable/gqlclient"
	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/bhoriuchi/graphql-go-cable/utils"
	"github.com/graphql-go/graphql"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// httpHandler executes queries and mutations posted as JSON
type httpHandler struct {
	schema graphql.Schema
	log    *logger.LogWrapper
}

func (h *httpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request gqlclient.Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.log.WithError(err).Debugf("failed to decode request")
		h.write(w, http.StatusBadRequest, &graphql.Result{Errors: utils.GQLErrors(err)})
		return
	}

	h.log.WithField("operationName", request.OperationName).Debugf("executing http request")
	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  request.Query,
		VariableValues: request.Variables,
		OperationName:  request.OperationName,
		Context:        r.Context(),
	})

	h.write(w, http.StatusOK, result)
}

func (h *httpHandler) write(w http.ResponseWriter, status int, result *graphql.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.log.WithError(err).Errorf("failed to write response")
	}
}
