package model

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Kind identifies the protocol family a backend speaks.
type Kind uint8

const (
	KindHTTP Kind = iota
	KindRPC
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindRPC:
		return "grpc"
	}
	return "unknown"
}

// Outcome is the protocol-neutral result class of a dispatched request.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomeClientError
	OutcomeServerError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeClientError:
		return "client_error"
	}
	return "server_error"
}

// OutcomeOf classifies an HTTP status code.
func OutcomeOf(status int) Outcome {
	switch {
	case status >= 200 && status < 400:
		return OutcomeSuccess
	case status >= 400 && status < 500:
		return OutcomeClientError
	}
	return OutcomeServerError
}

// HTTPResponse is the native shape of a response from the HTTP/JSON backend.
type HTTPResponse struct {
	StatusCode int
}

// RPCResponse is the native shape of a response from the gRPC backend.
type RPCResponse struct {
	Code    codes.Code
	Message string
}

// Envelope is the common view of a response written by any backend.
// Exactly one of HTTP and RPC is set, matching Kind.
type Envelope struct {
	Kind Kind
	// Status is the HTTP status for HTTP responses and the HTTP equivalent
	// of the gRPC status code for RPC responses.
	Status int
	Header http.Header
	Bytes  int64

	HTTP *HTTPResponse
	RPC  *RPCResponse
}

// Outcome reports whether the envelope signals success or failure.
func (e Envelope) Outcome() Outcome {
	return OutcomeOf(e.Status)
}

// HTTPStatusFromCode maps a gRPC status code to the closest HTTP status.
func HTTPStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// CodeFromHTTPStatus maps an HTTP status returned instead of a gRPC response
// to a gRPC status code, following the gRPC HTTP-to-status mapping.
func CodeFromHTTPStatus(status int) codes.Code {
	switch status {
	case http.StatusOK:
		return codes.OK
	case http.StatusBadRequest:
		return codes.Internal
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.Unimplemented
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return codes.Unavailable
	}
	return codes.Unknown
}
