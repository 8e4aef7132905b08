// Package service implements the echo business logic shared by both backends.
package service

import (
	"context"
	"fmt"
	"log/slog"
)

// Greeter builds the greeting returned by both the HTTP and gRPC echo endpoints.
type Greeter struct {
	logger *slog.Logger
}

// NewGreeter creates a Greeter.
func NewGreeter(logger *slog.Logger) *Greeter {
	return &Greeter{
		logger: logger.With("component", "greeter"),
	}
}

// Greet returns "Hello, {name}!". It fails only when ctx is already done, so
// a request whose connection went away is not answered.
func (g *Greeter) Greet(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("greet: %w", err)
	}

	g.logger.Debug("greeting", "length", len(name))
	return fmt.Sprintf("Hello, %s!", name), nil
}
