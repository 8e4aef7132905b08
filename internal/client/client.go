// Package client calls the echo service over either protocol on the shared port.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"hybrid-echo-go/internal/model"
	"hybrid-echo-go/internal/rpc"
)

// maxErrorBody caps how much of a failed HTTP response is read.
const maxErrorBody = 64 << 10

// StatusError is returned when the HTTP endpoint answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("echo: http status %d", e.StatusCode)
	}
	return fmt.Sprintf("echo: http status %d: %s", e.StatusCode, e.Message)
}

// Client talks to one hybrid-echo instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	conn       *grpc.ClientConn
	logger     *slog.Logger
}

// New creates a Client for target (host:port). The gRPC connection is
// established lazily on the first call.
func New(target string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", target, err)
	}

	return &Client{
		baseURL: "http://" + target,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		conn:   conn,
		logger: logger.With("component", "echo_client"),
	}, nil
}

// EchoHTTP calls POST /echo and returns the greeting.
func (c *Client) EchoHTTP(ctx context.Context, message string) (string, error) {
	payload, err := json.Marshal(model.EchoRequest{Message: message})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/echo", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("http echo", "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http echo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var out model.EchoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Message, nil
}

func statusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return se
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		se.Message = e.Error
	}
	return se
}

// EchoRPC calls examples.Echo/UnaryEcho. With useMsgpack the call is sent as
// application/grpc+msgpack, which the server only accepts in prefix mode.
func (c *Client) EchoRPC(ctx context.Context, message string, useMsgpack bool) (string, error) {
	var opts []grpc.CallOption
	if useMsgpack {
		opts = append(opts, grpc.CallContentSubtype(rpc.MsgpackCodecName))
	}

	if _, ok := ctx.Deadline(); !ok && c.httpClient.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	c.logger.Debug("rpc echo", "method", rpc.UnaryEchoMethod, "msgpack", useMsgpack)

	resp := rpc.NewResponse()
	if err := c.conn.Invoke(ctx, rpc.UnaryEchoMethod, rpc.NewRequest(message), resp, opts...); err != nil {
		return "", fmt.Errorf("rpc echo: %w", err)
	}
	return rpc.MessageText(resp)
}

// Close releases the gRPC connection and idle HTTP connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return c.conn.Close()
}
