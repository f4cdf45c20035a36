package utils

import (
	"fmt"

	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/graphql-go/graphql/language/source"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GetOperationAST selects the operation named operationName from the document.
// An empty name is only valid for single operation documents.
func GetOperationAST(nodes *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	var operation *ast.OperationDefinition

	if nodes == nil {
		return nil, fmt.Errorf("no document provided")
	}

	for _, def := range nodes.Definitions {
		switch def := def.(type) {
		case *ast.OperationDefinition:
			if operationName == "" && operation != nil {
				return nil, fmt.Errorf("must provide operation name if query contains multiple operations")
			}
			if operationName == "" || (def.GetName() != nil && def.GetName().Value == operationName) {
				operation = def
			}
		}
	}

	if operation == nil {
		if operationName != "" {
			return nil, fmt.Errorf("unknown operation named %q", operationName)
		}
		return nil, fmt.Errorf("document contains no operations")
	}

	return operation, nil
}

func ParseQuery(query string) (*ast.Document, error) {
	return parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(query),
			Name: "GraphQL request",
		}),
	})
}

// PrintQuery prints the document back to its string form
func PrintQuery(doc *ast.Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("no document provided")
	}

	s, ok := printer.Print(doc).(string)
	if !ok {
		return "", fmt.Errorf("failed to print document")
	}

	return s, nil
}

// ReMarshal converts one type to another
func ReMarshal(in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// GQLErrors formats errors of any of the shapes graphql-go produces
func GQLErrors(in interface{}) gqlerrors.FormattedErrors {
	switch v := in.(type) {
	case nil:
		return nil
	case gqlerrors.FormattedErrors:
		return v
	case []gqlerrors.FormattedError:
		return v
	case []error:
		errs := gqlerrors.FormattedErrors{}
		for _, err := range v {
			errs = append(errs, gqlerrors.FormatError(err))
		}
		return errs
	case error:
		return gqlerrors.FormattedErrors{gqlerrors.FormatError(v)}
	case string:
		return gqlerrors.FormattedErrors{gqlerrors.NewFormattedError(v)}
	}

	return gqlerrors.FormattedErrors{gqlerrors.NewFormattedError("unspecified error")}
}
