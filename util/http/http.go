package http

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam describes one request.
//
// Body may be nil, an io.Reader, a []byte or any value encoding/json can
// marshal. Response is filled from the response body: raw when it is a
// *[]byte, JSON-decoded otherwise. A nil Response discards the body.
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Query      map[string]string
	Body       interface{}
	Response   interface{}

	// Timeout bounds this request on top of the client timeout.
	Timeout time.Duration
}
