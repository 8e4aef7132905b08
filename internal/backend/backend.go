// Package backend defines the fixed table of protocol backends the
// dispatcher routes to.
package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"hybrid-echo-go/internal/model"
	"hybrid-echo-go/internal/rpc"
)

// Sentinel errors returned by NewTable.
var (
	ErrEmptyTable    = errors.New("backend: table is empty")
	ErrNilBackend    = errors.New("backend: nil backend")
	ErrDuplicateKind = errors.New("backend: duplicate backend kind")
	ErrMissingKind   = errors.New("backend: missing backend kind")
)

// Backend is one protocol backend. It holds exactly one of an echo engine
// (HTTP/JSON) or a gRPC server; build it with HTTP or RPC.
type Backend struct {
	kind model.Kind
	http *echo.Echo
	rpc  *rpc.Server
}

// HTTP wraps the HTTP/JSON engine as a Backend.
func HTTP(e *echo.Echo) Backend {
	return Backend{kind: model.KindHTTP, http: e}
}

// RPC wraps the gRPC server as a Backend.
func RPC(s *rpc.Server) Backend {
	return Backend{kind: model.KindRPC, rpc: s}
}

// Kind reports which protocol the backend speaks.
func (b Backend) Kind() model.Kind { return b.kind }

// HTTP returns the echo engine, or nil for an RPC backend.
func (b Backend) HTTP() *echo.Echo { return b.http }

// RPC returns the gRPC server, or nil for an HTTP backend.
func (b Backend) RPC() *rpc.Server { return b.rpc }

// Handler returns the backend as an http.Handler.
func (b Backend) Handler() http.Handler {
	switch b.kind {
	case model.KindHTTP:
		return b.http
	case model.KindRPC:
		return b.rpc
	}
	return nil
}

func (b Backend) valid() bool {
	switch b.kind {
	case model.KindHTTP:
		return b.http != nil
	case model.KindRPC:
		return b.rpc != nil
	}
	return false
}

// Descriptor is a Backend together with its position in the table.
type Descriptor struct {
	Index   int
	Backend Backend
}

// Table is the immutable set of backends. It is safe for concurrent use.
type Table struct {
	descriptors []Descriptor
	httpIndex   int
	rpcIndex    int
}

// NewTable validates backends and builds the table. Exactly one backend of
// each kind is required so every classification has a target.
func NewTable(backends ...Backend) (*Table, error) {
	if len(backends) == 0 {
		return nil, ErrEmptyTable
	}

	t := &Table{
		descriptors: make([]Descriptor, len(backends)),
		httpIndex:   -1,
		rpcIndex:    -1,
	}
	for i, b := range backends {
		if !b.valid() {
			return nil, fmt.Errorf("%w at index %d", ErrNilBackend, i)
		}
		slot := &t.httpIndex
		if b.kind == model.KindRPC {
			slot = &t.rpcIndex
		}
		if *slot != -1 {
			return nil, fmt.Errorf("%w: %s at index %d and %d", ErrDuplicateKind, b.kind, *slot, i)
		}
		*slot = i
		t.descriptors[i] = Descriptor{Index: i, Backend: b}
	}

	if t.httpIndex == -1 {
		return nil, fmt.Errorf("%w: %s", ErrMissingKind, model.KindHTTP)
	}
	if t.rpcIndex == -1 {
		return nil, fmt.Errorf("%w: %s", ErrMissingKind, model.KindRPC)
	}
	return t, nil
}

// Len returns the number of backends.
func (t *Table) Len() int { return len(t.descriptors) }

// At returns the descriptor at index i. i must come from HTTPIndex, RPCIndex
// or a Descriptor of this table.
func (t *Table) At(i int) Descriptor { return t.descriptors[i] }

// HTTPIndex is the index of the HTTP/JSON backend.
func (t *Table) HTTPIndex() int { return t.httpIndex }

// RPCIndex is the index of the gRPC backend.
func (t *Table) RPCIndex() int { return t.rpcIndex }

// Descriptors returns a copy of all descriptors in index order.
func (t *Table) Descriptors() []Descriptor {
	out := make([]Descriptor, len(t.descriptors))
	copy(out, t.descriptors)
	return out
}
