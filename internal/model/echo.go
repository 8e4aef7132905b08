// Package model defines shared types for the dispatcher and its backends.
package model

// EchoRequest is the JSON body accepted by POST /echo.
type EchoRequest struct {
	Message string `json:"message"`
}

// EchoResponse is the JSON body returned by POST /echo.
type EchoResponse struct {
	Message string `json:"message"`
}
