package proxy

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"shadowrunner/capture"
)

const defaultMaxGRPCMessageSize = 64 * 1024 * 1024

// Method name fragments that mark a call as streaming. Everything else is
// treated as unary and captured; streams are piped through untouched.
var streamingMethodHints = []string{
	"Stream", "Watch", "Subscribe", "Listen", "Monitor", "Observe",
}

// GRPCProxy forwards gRPC traffic to a single upstream without knowing any
// service schemas: messages travel as raw frames. Unary calls run through
// the capture pipeline with base64 bodies and flattened metadata; streaming
// calls are relayed frame by frame but never captured.
type GRPCProxy struct {
	target   string
	pipeline *Pipeline
	maxSize  int
}

func NewGRPCProxy(target string, pipeline *Pipeline, maxMessageSize int) *GRPCProxy {
	if maxMessageSize <= 0 {
		maxMessageSize = defaultMaxGRPCMessageSize
	}
	return &GRPCProxy{
		target:   target,
		pipeline: pipeline,
		maxSize:  maxMessageSize,
	}
}

// NewServer returns a grpc.Server that proxies every service through the
// unknown-service handler. The raw codec is forced on this server only;
// registering it globally would hijack real protobuf servers in the same
// process.
func (p *GRPCProxy) NewServer() *grpc.Server {
	return grpc.NewServer(
		grpc.ForceServerCodec(GetRawCodec()),
		grpc.MaxRecvMsgSize(p.maxSize),
		grpc.MaxSendMsgSize(p.maxSize),
		grpc.UnknownServiceHandler(p.handleStream),
	)
}

func (p *GRPCProxy) handleStream(srv interface{}, stream grpc.ServerStream) error {
	fullMethod, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Errorf(codes.Internal, "failed to get method from stream")
	}

	ctx := stream.Context()
	conn, err := grpc.DialContext(ctx, p.target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(GetRawCodec()),
			grpc.MaxCallRecvMsgSize(p.maxSize),
			grpc.MaxCallSendMsgSize(p.maxSize),
		),
	)
	if err != nil {
		return status.Errorf(codes.Unavailable, "failed to connect to backend %s: %v", p.target, err)
	}
	defer conn.Close()

	md, _ := metadata.FromIncomingContext(ctx)
	outCtx := metadata.NewOutgoingContext(ctx, md)

	if isUnaryMethod(fullMethod) {
		return p.proxyUnary(outCtx, conn, stream, fullMethod, md)
	}
	return p.proxyStream(outCtx, conn, stream, fullMethod)
}

// proxyUnary relays a single request/response exchange and feeds it through
// the pipeline. gRPC statuses are recorded as their HTTP equivalents so
// every capture shares one status vocabulary.
func (p *GRPCProxy) proxyUnary(ctx context.Context, conn *grpc.ClientConn, stream grpc.ServerStream, method string, md metadata.MD) error {
	var reqMsg RawMessage
	if err := stream.RecvMsg(&reqMsg); err != nil {
		return status.Errorf(codes.Internal, "failed to receive request: %v", err)
	}

	observed := &capture.CapturedRequest{
		Method:    http.MethodPost,
		Path:      method,
		URL:       p.target + method,
		Headers:   flattenMetadata(md),
		Body:      base64.StdEncoding.EncodeToString(reqMsg.Data),
		Timestamp: time.Now(),
		Protocol:  capture.ProtocolGRPC,
	}

	start := time.Now()
	var respMsg RawMessage
	err := conn.Invoke(ctx, method, &reqMsg, &respMsg)
	latency := time.Since(start).Milliseconds()

	httpStatus := http.StatusOK
	if err != nil {
		st, ok := status.FromError(err)
		if !ok {
			st = status.New(codes.Unknown, err.Error())
		}
		httpStatus = HTTPStatusFromGRPCCode(st.Code())
	}

	p.pipeline.Observe(observed, &capture.CapturedResponse{
		StatusCode: httpStatus,
		Body:       base64.StdEncoding.EncodeToString(respMsg.Data),
		Headers:    map[string]string{"content-type": "application/grpc"},
		LatencyMS:  latency,
	})

	if err != nil {
		return err
	}
	if err := stream.SendMsg(&respMsg); err != nil {
		return status.Errorf(codes.Internal, "failed to send response: %v", err)
	}
	return nil
}

// proxyStream pipes frames both ways until either side finishes. Streaming
// exchanges have no single request/response pair to capture.
func (p *GRPCProxy) proxyStream(ctx context.Context, conn *grpc.ClientConn, serverStream grpc.ServerStream, method string) error {
	log.Printf("grpc proxy: relaying streaming call %s uncaptured", method)

	clientStream, err := conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    method,
		ServerStreams: true,
		ClientStreams: true,
	}, method)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to open client stream for %s: %v", method, err)
	}

	errCh := make(chan error, 2)

	go func() {
		defer clientStream.CloseSend()
		for {
			var msg RawMessage
			if err := serverStream.RecvMsg(&msg); err != nil {
				if err == io.EOF {
					errCh <- nil
					return
				}
				errCh <- fmt.Errorf("server recv error: %w", err)
				return
			}
			if err := clientStream.SendMsg(&msg); err != nil {
				errCh <- fmt.Errorf("client send error: %w", err)
				return
			}
		}
	}()

	go func() {
		for {
			var msg RawMessage
			if err := clientStream.RecvMsg(&msg); err != nil {
				if err == io.EOF {
					errCh <- nil
					return
				}
				errCh <- fmt.Errorf("client recv error: %w", err)
				return
			}
			if err := serverStream.SendMsg(&msg); err != nil {
				errCh <- fmt.Errorf("server send error: %w", err)
				return
			}
		}
	}()

	return <-errCh
}

func isUnaryMethod(method string) bool {
	for _, hint := range streamingMethodHints {
		if strings.Contains(method, hint) {
			return false
		}
	}
	return true
}

// flattenMetadata turns gRPC metadata into the flat header map captures use.
// HTTP/2 pseudo headers are dropped.
func flattenMetadata(md metadata.MD) map[string]string {
	if len(md) == 0 {
		return nil
	}
	headers := make(map[string]string, len(md))
	for key, values := range md {
		if strings.HasPrefix(key, ":") {
			continue
		}
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}
