package gqlclient

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/bhoriuchi/graphql-go-cable/metadata"
	"github.com/pkg/errors"
)

// HeadersKey is the operation context key whose map[string]string value is
// added to outgoing HTTP requests
const HeadersKey = "headers"

// HTTPLinkOptions configures an HTTPLink
type HTTPLinkOptions struct {
	URL            string
	Before         []BeforeFunc
	Insecure       bool
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	LogFunc        logger.LogFunc
}

// HTTPLink is a terminating link that POSTs each operation as JSON
type HTTPLink struct {
	url        string
	before     []BeforeFunc
	httpClient *http.Client
	log        *logger.LogWrapper
}

// NewHTTPLink creates a new http link
func NewHTTPLink(opts *HTTPLinkOptions) *HTTPLink {
	var httpClient *http.Client

	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = time.Duration(defaultRequestTimeout) * time.Second
	}

	if opts.HTTPClient != nil {
		httpClient = opts.HTTPClient
	} else {
		httpClient = &http.Client{
			Timeout: opts.RequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: opts.Insecure,
				},
			},
		}
	}

	return &HTTPLink{
		url:        opts.URL,
		before:     opts.Before,
		httpClient: httpClient,
		log:        logger.NewLogWrapper(opts.LogFunc, map[string]interface{}{"link": "http"}),
	}
}

// Request performs the operation over HTTP. It never calls next.
func (l *HTTPLink) Request(op *Operation, next NextLink) *Observable {
	return NewObservable(func(e *Emitter) TeardownFunc {
		ctx, cancel := context.WithCancel(op.Context())

		go func() {
			result, err := l.do(ctx, op)
			if err != nil {
				e.Error(err)
				return
			}
			e.Next(result)
			e.Complete()
		}()

		return TeardownFunc(cancel)
	})
}

func (l *HTTPLink) do(ctx context.Context, op *Operation) (*Result, error) {
	log := l.log.WithField("operationName", op.OperationName)
	request := op.request()

	body, err := request.toReader()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, body)
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	if headers, ok := metadata.ReadStringMap(ctx, HeadersKey); ok {
		for k, v := range headers {
			httpRequest.Header.Set(k, v)
		}
	}

	// apply before middleware
	for _, before := range l.before {
		if err := before(httpRequest); err != nil {
			return nil, err
		}
	}

	httpResponse, err := l.httpClient.Do(httpRequest)
	if err != nil {
		log.WithError(err).Debugf("http request failed")
		return nil, err
	}
	defer httpResponse.Body.Close()

	raw, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		if httpResponse.StatusCode != http.StatusOK {
			return nil, errors.New(httpResponse.Status)
		}
		return nil, errors.Wrap(err, "failed to decode response body")
	}

	// a non-200 with graphql errors still carries a usable result
	if httpResponse.StatusCode != http.StatusOK && len(result.Errors) == 0 {
		return nil, errors.New(httpResponse.Status)
	}

	log.Tracef("received http response %d", httpResponse.StatusCode)
	return &result, nil
}
