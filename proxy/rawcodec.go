package proxy

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
)

// RawMessage carries an opaque protobuf frame through grpc-go without a
// registered message type.
type RawMessage struct {
	Data []byte
}

// Reset implements proto.Message
func (m *RawMessage) Reset() { m.Data = nil }

// String implements proto.Message
func (m *RawMessage) String() string { return fmt.Sprintf("RawMessage{%d bytes}", len(m.Data)) }

// ProtoMessage implements proto.Message
func (m *RawMessage) ProtoMessage() {}

// rawCodec moves frames verbatim. Name reports "proto" so the peer
// negotiates the standard content subtype; the codec is forced per server
// or per call and never registered globally, which would hijack real
// protobuf traffic in-process.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *RawMessage:
		return m.Data, nil
	case RawMessage:
		return m.Data, nil
	case []byte:
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported message type: %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *RawMessage:
		m.Data = make([]byte, len(data))
		copy(m.Data, data)
		return nil
	case *[]byte:
		*m = data
		return nil
	default:
		return fmt.Errorf("unsupported message type: %T", v)
	}
}

func (rawCodec) Name() string { return "proto" }

// GetRawCodec returns the pass-through codec instance.
func GetRawCodec() encoding.Codec {
	return rawCodec{}
}

// HTTPStatusFromGRPCCode maps a grpc status code onto the HTTP status the
// rest of the pipeline stores, so captured and replayed grpc traffic share
// one status vocabulary with HTTP traffic.
func HTTPStatusFromGRPCCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return 200
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return 400
	case codes.DeadlineExceeded:
		return 504
	case codes.NotFound:
		return 404
	case codes.AlreadyExists, codes.Aborted:
		return 409
	case codes.PermissionDenied:
		return 403
	case codes.Unauthenticated:
		return 401
	case codes.ResourceExhausted:
		return 429
	case codes.Unimplemented:
		return 501
	case codes.Unavailable:
		return 503
	default:
		return 500
	}
}

// GRPCCodeFromHTTPStatus is the reverse mapping, used when a stored status
// must be surfaced back to a grpc client. 409 always comes back as Aborted;
// the capture side folds AlreadyExists into the same status.
func GRPCCodeFromHTTPStatus(status int) codes.Code {
	switch status {
	case 200:
		return codes.OK
	case 400:
		return codes.InvalidArgument
	case 401:
		return codes.Unauthenticated
	case 403:
		return codes.PermissionDenied
	case 404:
		return codes.NotFound
	case 409:
		return codes.Aborted
	case 429:
		return codes.ResourceExhausted
	case 499:
		return codes.Canceled
	case 501:
		return codes.Unimplemented
	case 503:
		return codes.Unavailable
	case 504:
		return codes.DeadlineExceeded
	default:
		if status >= 200 && status < 300 {
			return codes.OK
		}
		return codes.Internal
	}
}
