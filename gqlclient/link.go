package gqlclient

import (
	"github.com/graphql-go/graphql/language/ast"
	"github.com/pkg/errors"
)

var (
	// ErrNoResult is returned when a sequence completes without producing a result
	ErrNoResult = errors.New("operation completed without a result")

	// ErrNoTerminatingLink is emitted when a chain forwards past its last link
	ErrNoTerminatingLink = errors.New("link chain has no terminating link")
)

// NextLink forwards an operation to the rest of the chain
type NextLink func(op *Operation) *Observable

// Link handles an operation, either producing results itself (a terminating
// link) or forwarding to next
type Link interface {
	Request(op *Operation, next NextLink) *Observable
}

// LinkFunc adapts a function to a Link
type LinkFunc func(op *Operation, next NextLink) *Observable

// Request calls f
func (f LinkFunc) Request(op *Operation, next NextLink) *Observable {
	return f(op, next)
}

func terminal(op *Operation) *Observable {
	return ErrorObservable(ErrNoTerminatingLink)
}

// From chains links in order; each link's next is the link after it
func From(links ...Link) Link {
	return LinkFunc(func(op *Operation, next NextLink) *Observable {
		if next == nil {
			next = terminal
		}
		return chain(links, next)(op)
	})
}

func chain(links []Link, last NextLink) NextLink {
	if len(links) == 0 {
		return last
	}

	rest := chain(links[1:], last)
	return func(op *Operation) *Observable {
		return links[0].Request(op, rest)
	}
}

// Split routes operations to left when test is true and right otherwise.
// A nil right forwards to next.
func Split(test func(op *Operation) bool, left, right Link) Link {
	return LinkFunc(func(op *Operation, next NextLink) *Observable {
		if next == nil {
			next = terminal
		}

		if test(op) {
			return left.Request(op, next)
		}
		if right == nil {
			return next(op)
		}
		return right.Request(op, next)
	})
}

// IsSubscription is a Split test for subscription operations
func IsSubscription(op *Operation) bool {
	return op.OperationType() == ast.OperationTypeSubscription
}

// Execute runs op through link
func Execute(link Link, op *Operation) *Observable {
	return link.Request(op, terminal)
}
