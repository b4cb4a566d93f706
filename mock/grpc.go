package mock

import (
	"encoding/base64"
	"log"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"shadowrunner/proxy"
)

// NewGRPCServer returns a grpc server answering unary calls from the same
// recordings and rotation as the HTTP side. The capture proxy logs grpc
// calls as POST <full-method>, so lookups reuse that key.
func (s *Server) NewGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.ForceServerCodec(proxy.GetRawCodec()),
		grpc.UnknownServiceHandler(s.handleGRPCCall),
	)
}

func (s *Server) handleGRPCCall(srv interface{}, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "failed to get method from stream")
	}

	var req proxy.RawMessage
	if err := stream.RecvMsg(&req); err != nil {
		return status.Errorf(codes.Internal, "failed to receive request: %v", err)
	}

	ix, idx, total := s.nextRecorded(http.MethodPost, method)
	if ix == nil {
		log.Printf("[MOCK GRPC] %s -> no recording", method)
		return status.Errorf(codes.Unimplemented, "no recorded interaction for %s", method)
	}

	if md := recordedMetadata(ix.Response.Headers, ix.ID); len(md) > 0 {
		if err := stream.SendHeader(metadata.New(md)); err != nil {
			return err
		}
	}

	if code := proxy.GRPCCodeFromHTTPStatus(ix.Response.StatusCode); code != codes.OK {
		log.Printf("[MOCK GRPC] %s -> %s (recording %d of %d)", method, code, idx+1, total)
		return status.Errorf(code, "recorded failure for %s", method)
	}

	frame, err := base64.StdEncoding.DecodeString(ix.Response.Body)
	if err != nil {
		return status.Errorf(codes.Internal, "recorded response for %s is not decodable", method)
	}
	if err := stream.SendMsg(&proxy.RawMessage{Data: frame}); err != nil {
		return status.Errorf(codes.Internal, "failed to send response: %v", err)
	}

	log.Printf("[MOCK GRPC] %s -> OK (recording %d of %d)", method, idx+1, total)
	return nil
}

// recordedMetadata converts stored response headers back into grpc
// metadata, dropping transport-owned keys, and stamps the mock marker.
func recordedMetadata(headers map[string]string, id string) map[string]string {
	md := make(map[string]string, len(headers)+1)
	for name, value := range headers {
		lower := strings.ToLower(name)
		if lower == "content-type" || skipReplayHeaders[lower] {
			continue
		}
		md[lower] = value
	}
	md[strings.ToLower(MockHeader)] = id
	return md
}
