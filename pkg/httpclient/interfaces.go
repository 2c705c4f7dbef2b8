package httpclient

import (
	"context"
	"net/http"
)

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
// Execute sends exactly one request; a nil body sends none.
type Client interface {
	Execute(ctx context.Context, method, url string, header http.Header, body []byte) (Response, error)
}
