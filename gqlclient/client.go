package gqlclient

import (
	"context"
	"net/http"
	"time"

	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/pkg/errors"
)

// Options client options
type Options struct {
	URL            string
	Link           Link
	Before         []BeforeFunc
	Insecure       bool
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	LogFunc        logger.LogFunc
}

// Client a graphql client that sends every operation through a link
type Client struct {
	link Link
	log  *logger.LogWrapper
}

// NewClient creates a new client. Without a Link an HTTPLink for URL is used.
func NewClient(opts *Options) (client *Client, err error) {
	if opts == nil {
		return nil, errors.New("no client options provided")
	}

	link := opts.Link
	if link == nil {
		if opts.URL == "" {
			return nil, errors.New("client requires a url or a link")
		}

		link = NewHTTPLink(&HTTPLinkOptions{
			URL:            opts.URL,
			Before:         opts.Before,
			Insecure:       opts.Insecure,
			RequestTimeout: opts.RequestTimeout,
			HTTPClient:     opts.HTTPClient,
			LogFunc:        opts.LogFunc,
		})
	}

	client = &Client{
		link: link,
		log:  logger.NewLogWrapper(opts.LogFunc, nil),
	}
	return
}

// Request performs a request and returns its first result
func (c *Client) Request(ctx context.Context, request Request) (*Response, error) {
	op, err := NewOperation(ctx, request)
	if err != nil {
		return nil, err
	}

	result, err := Execute(c.link, op).First(ctx)
	if err != nil {
		return nil, err
	}

	return NewResponse(result), nil
}

// Subscribe starts a streaming operation. The subscription ends when the
// server completes it, on error, on Unsubscribe, or when ctx is done.
func (c *Client) Subscribe(ctx context.Context, request Request, observer Observer) (*Subscription, error) {
	op, err := NewOperation(ctx, request)
	if err != nil {
		return nil, err
	}

	c.log.WithField("operationName", op.OperationName).Debugf("starting %s operation", op.OperationType())
	sub := Execute(c.link, op).Subscribe(observer)

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.Done():
		}
	}()

	return sub, nil
}
