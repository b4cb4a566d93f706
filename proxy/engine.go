package proxy

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
)

// Engine serves HTTP and gRPC traffic on one cleartext listener. HTTP/2
// requests with a gRPC content type go to the gRPC server; everything else
// goes to the HTTP handler.
type Engine struct {
	addr string
	http http.Handler
	grpc *grpc.Server
	srv  *http.Server
}

func NewEngine(addr string, httpHandler http.Handler, grpcServer *grpc.Server) *Engine {
	return &Engine{
		addr: addr,
		http: httpHandler,
		grpc: grpcServer,
	}
}

func (e *Engine) handler() http.Handler {
	split := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.grpc != nil && r.ProtoMajor == 2 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc") {
			e.grpc.ServeHTTP(w, r)
			return
		}
		if e.http == nil {
			http.Error(w, "no HTTP upstream configured", http.StatusNotImplemented)
			return
		}
		e.http.ServeHTTP(w, r)
	})
	// h2c lets gRPC clients speak HTTP/2 without TLS on the shared port.
	return h2c.NewHandler(split, &http2.Server{})
}

// Start blocks serving until Shutdown is called or the listener fails.
func (e *Engine) Start() error {
	e.srv = &http.Server{
		Addr:    e.addr,
		Handler: e.handler(),
	}
	log.Printf("Starting proxy engine on %s", e.addr)
	if err := e.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	var err error
	if e.srv != nil {
		err = e.srv.Shutdown(ctx)
	}
	if e.grpc != nil {
		e.grpc.GracefulStop()
	}
	return err
}
