package dispatch

import (
	"bufio"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"google.golang.org/grpc/codes"

	"hybrid-echo-go/internal/model"
)

const (
	headerRequestID  = "X-Request-Id"
	headerGRPCStatus = "Grpc-Status"
	headerGRPCMsg    = "Grpc-Message"
)

// failureBody is written when the HTTP backend fails before producing a response.
const failureBody = `{"error":"internal server error"}` + "\n"

// recorder passes every write straight through to the client and remembers
// enough of the response to build an envelope afterwards.
type recorder struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
	bytes       int64
}

func newRecorder(w http.ResponseWriter) *recorder {
	return &recorder{ResponseWriter: w}
}

func (r *recorder) WriteHeader(code int) {
	// 1xx responses may precede the final status.
	if code >= 100 && code <= 199 && code != http.StatusSwitchingProtocols {
		r.ResponseWriter.WriteHeader(code)
		return
	}
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher, which the gRPC backend requires.
func (r *recorder) Flush() {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets HTTP/1.1 upgrades through when the underlying writer supports it.
func (r *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *recorder) statusCode() int {
	if !r.wroteHeader {
		return http.StatusOK
	}
	return r.status
}

// normalize converts what the backend wrote into an envelope.
func normalize(rec *recorder, kind model.Kind) model.Envelope {
	if kind == model.KindRPC {
		return normalizeRPC(rec)
	}
	return normalizeHTTP(rec)
}

func normalizeHTTP(rec *recorder) model.Envelope {
	status := rec.statusCode()
	return model.Envelope{
		Kind:   model.KindHTTP,
		Status: status,
		Header: rec.Header().Clone(),
		Bytes:  rec.bytes,
		HTTP:   &model.HTTPResponse{StatusCode: status},
	}
}

func normalizeRPC(rec *recorder) model.Envelope {
	h := rec.Header()
	res := &model.RPCResponse{}

	// A plain HTTP error from the gRPC backend keeps its status; only the
	// code is derived.
	if status := rec.statusCode(); status != http.StatusOK {
		res.Code = model.CodeFromHTTPStatus(status)
		res.Message = "http status " + strconv.Itoa(status)
		return model.Envelope{
			Kind:   model.KindRPC,
			Status: status,
			Header: h.Clone(),
			Bytes:  rec.bytes,
			RPC:    res,
		}
	}

	if raw := trailerValue(h, headerGRPCStatus); raw == "" {
		res.Code = codes.Unknown
		res.Message = "missing grpc-status"
	} else if n, err := strconv.ParseUint(raw, 10, 32); err != nil {
		res.Code = codes.Unknown
		res.Message = "malformed grpc-status " + strconv.Quote(raw)
	} else {
		res.Code = codes.Code(n)
		res.Message = decodeGRPCMessage(trailerValue(h, headerGRPCMsg))
	}

	return model.Envelope{
		Kind:   model.KindRPC,
		Status: model.HTTPStatusFromCode(res.Code),
		Header: h.Clone(),
		Bytes:  rec.bytes,
		RPC:    res,
	}
}

// trailerValue reads key from the header map whether it was sent as a
// header, a declared trailer or an undeclared trailer.
func trailerValue(h http.Header, key string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	return h.Get(http.TrailerPrefix + key)
}

func decodeGRPCMessage(s string) string {
	if decoded, err := url.PathUnescape(s); err == nil {
		return decoded
	}
	return s
}

// writeFailure answers a request whose backend failed before writing
// anything, using the framing of the backend's protocol.
func writeFailure(rec *recorder, kind model.Kind) {
	h := rec.Header()
	reqID := h.Get(headerRequestID)
	clear(h)
	if reqID != "" {
		h.Set(headerRequestID, reqID)
	}

	if kind == model.KindRPC {
		// Trailers-only response.
		h.Set("Content-Type", grpcContentType)
		h.Set(headerGRPCStatus, strconv.Itoa(int(codes.Internal)))
		h.Set(headerGRPCMsg, "internal error")
		rec.WriteHeader(http.StatusOK)
		return
	}

	h.Set("Content-Type", "application/json; charset=UTF-8")
	h.Set("X-Content-Type-Options", "nosniff")
	rec.WriteHeader(http.StatusInternalServerError)
	_, _ = rec.Write([]byte(failureBody))
}
