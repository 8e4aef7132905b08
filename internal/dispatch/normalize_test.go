package dispatch

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/codes"

	"hybrid-echo-go/internal/model"
)

func TestRecorder(t *testing.T) {
	t.Run("implicit 200", func(t *testing.T) {
		w := httptest.NewRecorder()
		rec := newRecorder(w)
		_, _ = rec.Write([]byte("hello"))

		if rec.statusCode() != http.StatusOK || w.Code != http.StatusOK {
			t.Errorf("status = %d/%d, want 200", rec.statusCode(), w.Code)
		}
		if rec.bytes != 5 {
			t.Errorf("bytes = %d, want 5", rec.bytes)
		}
	})

	t.Run("unwritten counts as 200", func(t *testing.T) {
		rec := newRecorder(httptest.NewRecorder())
		if rec.statusCode() != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.statusCode())
		}
	})

	t.Run("first status wins", func(t *testing.T) {
		rec := newRecorder(httptest.NewRecorder())
		rec.WriteHeader(http.StatusTeapot)
		rec.WriteHeader(http.StatusOK)
		if rec.statusCode() != http.StatusTeapot {
			t.Errorf("status = %d, want %d", rec.statusCode(), http.StatusTeapot)
		}
	})

	t.Run("informational does not count", func(t *testing.T) {
		rec := newRecorder(httptest.NewRecorder())
		rec.WriteHeader(http.StatusEarlyHints)
		if rec.wroteHeader {
			t.Error("1xx marked the header as written")
		}
		rec.WriteHeader(http.StatusCreated)
		if rec.statusCode() != http.StatusCreated {
			t.Errorf("status = %d, want %d", rec.statusCode(), http.StatusCreated)
		}
	})

	t.Run("flush", func(t *testing.T) {
		w := httptest.NewRecorder()
		rec := newRecorder(w)
		rec.Flush()
		if !w.Flushed {
			t.Error("underlying writer not flushed")
		}
		if !rec.wroteHeader {
			t.Error("flush did not commit the header")
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		w := httptest.NewRecorder()
		if newRecorder(w).Unwrap() != w {
			t.Error("Unwrap() did not return the underlying writer")
		}
	})
}

func TestNormalizeHTTP(t *testing.T) {
	w := httptest.NewRecorder()
	rec := newRecorder(w)
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteHeader(http.StatusUnprocessableEntity)
	_, _ = rec.Write([]byte(`{"error":"x"}`))

	env := normalize(rec, model.KindHTTP)
	if env.Kind != model.KindHTTP || env.HTTP == nil || env.RPC != nil {
		t.Fatalf("envelope = %+v, want HTTP variant", env)
	}
	if env.Status != http.StatusUnprocessableEntity || env.HTTP.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d/%d, want 422", env.Status, env.HTTP.StatusCode)
	}
	if env.Outcome() != model.OutcomeClientError {
		t.Errorf("outcome = %s, want client_error", env.Outcome())
	}
	if env.Bytes != 13 {
		t.Errorf("bytes = %d, want 13", env.Bytes)
	}
	if env.Header.Get("Content-Type") != "application/json" {
		t.Errorf("header not captured: %v", env.Header)
	}
}

func TestNormalizeRPC(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		wantCode   codes.Code
		wantMsg    string
		wantStatus int
	}{
		{"ok", 200, map[string]string{"Grpc-Status": "0"}, codes.OK, "", 200},
		{"invalid argument", 200, map[string]string{"Grpc-Status": "3", "Grpc-Message": "bad"}, codes.InvalidArgument, "bad", 400},
		{"percent encoded message", 200, map[string]string{"Grpc-Status": "13", "Grpc-Message": "a%20b%25"}, codes.Internal, "a b%", 500},
		{"undeclared trailer", 200, map[string]string{http.TrailerPrefix + "Grpc-Status": "5"}, codes.NotFound, "", 404},
		{"missing status", 200, nil, codes.Unknown, "missing grpc-status", 500},
		{"malformed status", 200, map[string]string{"Grpc-Status": "x"}, codes.Unknown, `malformed grpc-status "x"`, 500},
		{"http 400", 400, nil, codes.Internal, "http status 400", 400},
		{"http 404", 404, map[string]string{"Grpc-Status": "0"}, codes.Unimplemented, "http status 404", 404},
		{"http 405", 405, nil, codes.Unknown, "http status 405", 405},
		{"http 415", 415, nil, codes.Unknown, "http status 415", 415},
		{"http 503", 503, nil, codes.Unavailable, "http status 503", 503},
		{"resource exhausted", 200, map[string]string{"Grpc-Status": "8"}, codes.ResourceExhausted, "", 429},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder(httptest.NewRecorder())
			rec.WriteHeader(tt.status)
			for k, v := range tt.header {
				rec.Header()[k] = []string{v}
			}

			env := normalize(rec, model.KindRPC)
			if env.Kind != model.KindRPC || env.RPC == nil || env.HTTP != nil {
				t.Fatalf("envelope = %+v, want RPC variant", env)
			}
			if env.RPC.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", env.RPC.Code, tt.wantCode)
			}
			if env.RPC.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", env.RPC.Message, tt.wantMsg)
			}
			if env.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", env.Status, tt.wantStatus)
			}
			if tt.status >= 400 && tt.status < 500 && env.Outcome() != model.OutcomeClientError {
				t.Errorf("outcome = %s, want client_error", env.Outcome())
			}
		})
	}
}

func TestWriteFailure(t *testing.T) {
	t.Run("http", func(t *testing.T) {
		w := httptest.NewRecorder()
		rec := newRecorder(w)
		rec.Header().Set("X-Request-Id", "id-1")
		rec.Header().Set("X-Partial", "yes")
		writeFailure(rec, model.KindHTTP)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
		if w.Body.String() != failureBody {
			t.Errorf("body = %q, want %q", w.Body.String(), failureBody)
		}
		if w.Header().Get("X-Partial") != "" {
			t.Error("stale backend header survived")
		}
		if w.Header().Get("X-Request-Id") != "id-1" {
			t.Error("request id dropped")
		}
	})

	t.Run("grpc", func(t *testing.T) {
		w := httptest.NewRecorder()
		rec := newRecorder(w)
		rec.Header().Set("Trailer", "Grpc-Status")
		writeFailure(rec, model.KindRPC)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		if w.Header().Get("Content-Type") != "application/grpc" {
			t.Errorf("content-type = %q, want application/grpc", w.Header().Get("Content-Type"))
		}
		if w.Header().Get("Grpc-Status") != "13" {
			t.Errorf("grpc-status = %q, want 13", w.Header().Get("Grpc-Status"))
		}
		if w.Body.Len() != 0 {
			t.Errorf("trailers-only response has a body: %q", w.Body.String())
		}

		env := normalize(rec, model.KindRPC)
		if env.RPC.Code != codes.Internal || env.Status != http.StatusInternalServerError {
			t.Errorf("envelope = %+v, want Internal/500", env.RPC)
		}
	})
}
