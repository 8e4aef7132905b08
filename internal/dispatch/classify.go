// Package dispatch routes requests arriving on the shared port to the
// HTTP/JSON or gRPC backend and normalizes what they write back.
package dispatch

import (
	"fmt"
	"net/http"
	"strings"

	"hybrid-echo-go/internal/backend"
)

// grpcContentType is the media type that marks a request as gRPC.
const grpcContentType = "application/grpc"

// MatchMode selects how strictly Content-Type is compared.
type MatchMode uint8

const (
	// MatchExact routes only the literal "application/grpc" to RPC.
	MatchExact MatchMode = iota
	// MatchPrefix also routes "application/grpc+<codec>" and
	// "application/grpc;<params>" to RPC.
	MatchPrefix
)

func (m MatchMode) String() string {
	if m == MatchPrefix {
		return "prefix"
	}
	return "exact"
}

// ParseMatchMode parses a config value. Empty means exact.
func ParseMatchMode(s string) (MatchMode, error) {
	switch s {
	case "", "exact":
		return MatchExact, nil
	case "prefix":
		return MatchPrefix, nil
	}
	return MatchExact, fmt.Errorf("dispatch: unknown match mode %q", s)
}

// Classifier picks a backend index from request headers. It is a plain
// value and safe for concurrent use.
type Classifier struct {
	mode      MatchMode
	httpIndex int
	rpcIndex  int
}

// NewClassifier binds a classifier to the indexes of table.
func NewClassifier(table *backend.Table, mode MatchMode) Classifier {
	return Classifier{
		mode:      mode,
		httpIndex: table.HTTPIndex(),
		rpcIndex:  table.RPCIndex(),
	}
}

// Mode returns the configured match mode.
func (c Classifier) Mode() MatchMode { return c.mode }

// Classify returns the backend index for a request with header h. Only the
// last Content-Type value is considered; anything that is not gRPC goes to
// the HTTP backend.
func (c Classifier) Classify(h http.Header) int {
	if c.isRPC(lastContentType(h)) {
		return c.rpcIndex
	}
	return c.httpIndex
}

func (c Classifier) isRPC(ct string) bool {
	if c.mode == MatchExact {
		return ct == grpcContentType
	}
	rest, ok := strings.CutPrefix(ct, grpcContentType)
	if !ok {
		return false
	}
	return rest == "" || rest[0] == '+' || rest[0] == ';'
}

func lastContentType(h http.Header) string {
	vals := h.Values("Content-Type")
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}
