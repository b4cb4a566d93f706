package replay

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"shadowrunner/capture"
	"shadowrunner/proxy"
)

// GRPCExecutor reissues captured gRPC interactions by pushing the recorded
// raw frames through a client connection. Frames are opaque; only status
// codes come back for validation.
type GRPCExecutor struct {
	conn *grpc.ClientConn
}

func NewGRPCExecutor(target string, maxMessageSize int) (*GRPCExecutor, error) {
	if maxMessageSize <= 0 {
		maxMessageSize = 64 << 20
	}
	conn, err := grpc.Dial(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(proxy.GetRawCodec()),
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return &GRPCExecutor{conn: conn}, nil
}

func (e *GRPCExecutor) Close() error {
	return e.conn.Close()
}

func (e *GRPCExecutor) Execute(ctx context.Context, ix *capture.CapturedInteraction) (int, error) {
	frame, err := base64.StdEncoding.DecodeString(ix.Request.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to decode request frame: %w", err)
	}

	md := metadata.New(nil)
	for key, value := range ix.Request.Headers {
		if strings.HasPrefix(key, ":") {
			continue
		}
		md.Set(key, value)
	}
	ctx = metadata.NewOutgoingContext(ctx, md)

	in := &proxy.RawMessage{Data: frame}
	out := &proxy.RawMessage{}
	err = e.conn.Invoke(ctx, ix.Request.Path, in, out)
	if err != nil {
		st, ok := status.FromError(err)
		if !ok {
			return 0, fmt.Errorf("gRPC call failed: %w", err)
		}
		// A status from the upstream is an outcome, not a transport
		// failure; map it like capture did and let validation compare.
		return proxy.HTTPStatusFromGRPCCode(st.Code()), nil
	}
	return 200, nil
}
