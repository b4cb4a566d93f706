package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shadowrunner/archive"
	"shadowrunner/capture"
	"shadowrunner/config"
	"shadowrunner/filter"
	"shadowrunner/proxy"
	"shadowrunner/sanitize"
	"shadowrunner/session"
	"shadowrunner/web"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var (
	cfgFile  string
	runLabel string
)

const (
	sessionSweepInterval = time.Minute
	shutdownGrace        = 10 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "shadowrunner",
	Short: "Shadow Runner - turn live traffic into regression tests",
	Long: `A capture proxy that records HTTP and gRPC traffic, filters out noise,
redacts secrets, groups requests into per-user sessions, and generates
replayable test suites from what it saw.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.yaml)")
	rootCmd.Flags().StringVar(&runLabel, "label", "", "label for the archived capture run")
}

func runServe() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}
	if cfg.Capture.HTTPTarget == "" && cfg.Capture.GRPCTarget == "" {
		log.Fatal("No upstream configured: set capture.http_target or capture.grpc_target")
	}

	store, err := session.NewStore(cfg.Session.OutputDir)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}
	recorder := session.NewRecorder(store, cfg.Session.Timeout)

	sanitizer, err := sanitize.New(cfg.Capture.RedactPatterns)
	if err != nil {
		log.Fatal("Invalid redact pattern:", err)
	}

	smart := filter.NewSmartFilter(buildRuleEngine(cfg), cfg.Filter.NoiseRatio)

	interceptor := capture.NewInterceptor()
	interceptor.Start()

	opts := proxy.PipelineOptions{UserHeader: cfg.Capture.UserHeader}

	if cfg.Archive.Enabled {
		arc, err := archive.NewArchive(cfg.Archive.Path)
		if err != nil {
			log.Fatal("Failed to open archive:", err)
		}
		defer arc.Close()
		run, err := arc.BeginRun(runLabel)
		if err != nil {
			log.Fatal("Failed to begin capture run:", err)
		}
		opts.Archive = arc
		opts.RunID = run.ID
		log.Printf("archiving traffic to %s (run %d)", cfg.Archive.Path, run.ID)
	}

	var hub *web.Hub
	if cfg.Web.Enabled {
		hub = web.NewHub()
		opts.Events = hub
	}

	pipeline := proxy.NewPipeline(interceptor, smart, sanitizer, recorder, opts)

	var httpHandler http.Handler
	if cfg.Capture.HTTPTarget != "" {
		httpProxy, err := proxy.NewHTTPProxy(cfg.Capture.HTTPTarget, pipeline)
		if err != nil {
			log.Fatal("Invalid HTTP target:", err)
		}
		httpHandler = httpProxy
	}

	var grpcServer *grpc.Server
	if cfg.Capture.GRPCTarget != "" {
		grpcServer = proxy.NewGRPCProxy(cfg.Capture.GRPCTarget, pipeline, cfg.Capture.MaxMessageSize).NewServer()
	}

	srv := proxy.NewEngine(cfg.Capture.ListenAddr, httpHandler, grpcServer)

	var webSrv *http.Server
	if cfg.Web.Enabled {
		mux := http.NewServeMux()
		web.NewServer(hub, interceptor, recorder, smart).RegisterRoutes(mux)
		webSrv = &http.Server{Addr: cfg.Web.ListenAddr, Handler: mux}
		go func() {
			log.Printf("web dashboard listening on http://%s", cfg.Web.ListenAddr)
			if err := webSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Web server failed: %v", err)
			}
		}()
	}

	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := recorder.CleanupExpiredSessions(); n > 0 {
					log.Printf("closed %d expired sessions", n)
				}
			case <-sweepDone:
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	log.Printf("capture proxy listening on %s (http target %q, grpc target %q)",
		cfg.Capture.ListenAddr, cfg.Capture.HTTPTarget, cfg.Capture.GRPCTarget)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		close(sweepDone)
		if err != nil {
			log.Fatal("Server failed:", err)
		}
	case <-sig:
		log.Println("Shutting down...")
		close(sweepDone)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if webSrv != nil {
			_ = webSrv.Shutdown(ctx)
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		cancel()
		if n := recorder.CloseAllSessions(); n > 0 {
			log.Printf("closed %d active sessions", n)
		}
	}
}

// buildRuleEngine assembles the rule set: stock rules unless disabled, plus
// any exclusions learned from archived traffic.
func buildRuleEngine(cfg *config.Config) *filter.Engine {
	var engine *filter.Engine
	if cfg.Filter.UseDefaults {
		engine = filter.NewDefaultEngine()
	} else {
		engine = filter.NewEngine()
	}
	for _, path := range cfg.Filter.LearnedExclusions {
		engine.AddRule(filter.LearnedExclusion(path))
	}
	return engine
}
