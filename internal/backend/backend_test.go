package backend

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/labstack/echo/v4"

	"hybrid-echo-go/internal/config"
	"hybrid-echo-go/internal/metrics"
	"hybrid-echo-go/internal/model"
	"hybrid-echo-go/internal/rpc"
	"hybrid-echo-go/internal/service"
)

func newRPCServer() *rpc.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{RPC: config.RPCConfig{MaxRecvMsgBytes: 1 << 20}}
	return rpc.NewServer(cfg, service.NewGreeter(logger), metrics.New(), logger)
}

func TestNewTable(t *testing.T) {
	e := echo.New()
	s := newRPCServer()

	table, err := NewTable(HTTP(e), RPC(s))
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
	if table.HTTPIndex() != 0 || table.RPCIndex() != 1 {
		t.Errorf("indexes = (%d, %d), want (0, 1)", table.HTTPIndex(), table.RPCIndex())
	}

	h := table.At(table.HTTPIndex())
	if h.Backend.Kind() != model.KindHTTP || h.Backend.HTTP() != e || h.Backend.RPC() != nil {
		t.Errorf("HTTP descriptor = %+v", h)
	}
	r := table.At(table.RPCIndex())
	if r.Backend.Kind() != model.KindRPC || r.Backend.RPC() != s || r.Backend.HTTP() != nil {
		t.Errorf("RPC descriptor = %+v", r)
	}
	if r.Backend.Handler() == nil || h.Backend.Handler() == nil {
		t.Error("Handler() = nil")
	}
}

func TestNewTable_Order(t *testing.T) {
	table, err := NewTable(RPC(newRPCServer()), HTTP(echo.New()))
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	if table.RPCIndex() != 0 || table.HTTPIndex() != 1 {
		t.Errorf("indexes = (http %d, rpc %d), want (1, 0)", table.HTTPIndex(), table.RPCIndex())
	}
	for i, d := range table.Descriptors() {
		if d.Index != i {
			t.Errorf("Descriptors()[%d].Index = %d", i, d.Index)
		}
	}
}

func TestNewTable_Errors(t *testing.T) {
	e := echo.New()
	s := newRPCServer()

	tests := []struct {
		name     string
		backends []Backend
		want     error
	}{
		{"empty", nil, ErrEmptyTable},
		{"nil echo", []Backend{HTTP(nil), RPC(s)}, ErrNilBackend},
		{"nil rpc", []Backend{HTTP(e), RPC(nil)}, ErrNilBackend},
		{"zero value", []Backend{{}, RPC(s)}, ErrNilBackend},
		{"duplicate http", []Backend{HTTP(e), HTTP(e), RPC(s)}, ErrDuplicateKind},
		{"missing rpc", []Backend{HTTP(e)}, ErrMissingKind},
		{"missing http", []Backend{RPC(s)}, ErrMissingKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.backends...)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewTable() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTable_DescriptorsIsCopy(t *testing.T) {
	table, err := NewTable(HTTP(echo.New()), RPC(newRPCServer()))
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	d := table.Descriptors()
	d[0] = Descriptor{}
	if table.At(0).Backend.Kind() != model.KindHTTP {
		t.Error("mutating Descriptors() result changed the table")
	}
}
