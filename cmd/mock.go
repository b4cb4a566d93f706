package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"shadowrunner/config"
	"shadowrunner/mock"
	"shadowrunner/proxy"
	"shadowrunner/session"

	"github.com/spf13/cobra"
)

var (
	mockSessions []string
	mockAddr     string
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Serve recorded responses as a stub server",
	Long: `Start an HTTP server that answers requests with the responses recorded
in persisted sessions. Endpoints with several recorded responses rotate
through them in capture order.`,
	Run: func(cmd *cobra.Command, args []string) {
		runMock()
	},
}

func init() {
	mockCmd.Flags().StringSliceVar(&mockSessions, "session", nil, "session id to serve from (repeatable; default all)")
	mockCmd.Flags().StringVar(&mockAddr, "addr", "", "listen address (overrides config)")

	rootCmd.AddCommand(mockCmd)
}

func runMock() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if mockAddr != "" {
		cfg.Mock.ListenAddr = mockAddr
	}

	store, err := session.NewStore(cfg.Session.OutputDir)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}

	var sessions []*session.Session
	if len(mockSessions) == 0 {
		all, warnings, err := store.LoadAll()
		if err != nil {
			log.Fatal("Failed to load sessions:", err)
		}
		for _, w := range warnings {
			log.Printf("skipped %s: %s", w.Path, w.Err)
		}
		sessions = all
	} else {
		for _, id := range mockSessions {
			s := store.Load(id)
			if s == nil {
				log.Fatalf("Session not found: %s", id)
			}
			sessions = append(sessions, s)
		}
	}

	mockServer := mock.NewServer(sessions)
	if mockServer.EndpointCount() == 0 {
		log.Fatal("No recorded interactions to serve")
	}

	// One listener answers both plain HTTP and grpc-over-h2c, mirroring
	// the capture side.
	srv := proxy.NewEngine(cfg.Mock.ListenAddr, mockServer, mockServer.NewGRPCServer())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	log.Printf("mock server serving %d endpoints on %s", mockServer.EndpointCount(), cfg.Mock.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("Mock server failed:", err)
		}
	case <-sig:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}
}
