package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shadowrunner/capture"
	"shadowrunner/config"
	"shadowrunner/replay"
	"shadowrunner/session"

	"github.com/spf13/cobra"
)

var (
	replayHTTPTarget string
	replayGRPCTarget string
	replayTimeout    time.Duration
	replayStepDelay  time.Duration
	replayValidation string
)

var replayCmd = &cobra.Command{
	Use:   "replay <session-id>",
	Short: "Replay a recorded session against a live target",
	Long: `Replay the interactions of a persisted session against a live server,
in their original order, and compare what comes back with what was
recorded. A failing step is reported and the run continues.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runReplay(args[0])
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayHTTPTarget, "http-target", "", "base URL for replayed HTTP interactions (overrides config)")
	replayCmd.Flags().StringVar(&replayGRPCTarget, "grpc-target", "", "host:port for replayed gRPC interactions (overrides config)")
	replayCmd.Flags().DurationVar(&replayTimeout, "timeout", 0, "per-step timeout (overrides config)")
	replayCmd.Flags().DurationVar(&replayStepDelay, "step-delay", 0, "fixed pause between steps (overrides config)")
	replayCmd.Flags().StringVar(&replayValidation, "validation", "", "validation mode: status or none (overrides config)")

	rootCmd.AddCommand(replayCmd)
}

func runReplay(sessionID string) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	if replayHTTPTarget != "" {
		cfg.Replay.HTTPTarget = replayHTTPTarget
	}
	if replayGRPCTarget != "" {
		cfg.Replay.GRPCTarget = replayGRPCTarget
	}
	if replayTimeout > 0 {
		cfg.Replay.Timeout = replayTimeout
	}
	if replayStepDelay > 0 {
		cfg.Replay.StepDelay = replayStepDelay
	}
	if replayValidation != "" {
		cfg.Replay.Validation = replayValidation
	}

	if cfg.Replay.HTTPTarget == "" && cfg.Replay.GRPCTarget == "" {
		log.Fatal("No replay target configured: set replay.http_target or replay.grpc_target")
	}

	mode, err := replay.ParseValidationMode(cfg.Replay.Validation)
	if err != nil {
		log.Fatal("Invalid validation mode:", err)
	}

	store, err := session.NewStore(cfg.Session.OutputDir)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}
	recorder := session.NewRecorder(store, cfg.Session.Timeout)

	executors := make(map[string]replay.Executor)
	if cfg.Replay.HTTPTarget != "" {
		executors[capture.ProtocolHTTP] = replay.NewHTTPExecutor(cfg.Replay.HTTPTarget, cfg.Replay.Timeout)
	}
	if cfg.Replay.GRPCTarget != "" {
		grpcExec, err := replay.NewGRPCExecutor(cfg.Replay.GRPCTarget, cfg.Capture.MaxMessageSize)
		if err != nil {
			log.Fatal("Failed to connect to gRPC target:", err)
		}
		defer grpcExec.Close()
		executors[capture.ProtocolGRPC] = grpcExec
	}

	runner := replay.NewRunner(recorder, executors, replay.Options{
		Validation:  mode,
		StepDelay:   cfg.Replay.StepDelay,
		StepTimeout: cfg.Replay.Timeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := runner.Run(ctx, sessionID)
	if err != nil {
		if report == nil {
			log.Fatal("Replay failed:", err)
		}
		log.Printf("Replay stopped early: %v", err)
	}

	fmt.Printf("\nReplay Summary:\n")
	fmt.Printf("Session: %s\n", report.SessionID)
	fmt.Printf("Total Steps: %d\n", report.TotalSteps)
	fmt.Printf("Successful: %d\n", report.SuccessCount)
	fmt.Printf("Failed: %d\n", report.FailureCount)
	fmt.Printf("Duration: %v\n", report.Duration)

	if report.FailureCount > 0 {
		fmt.Printf("\nFailure Details:\n")
		for _, step := range report.Steps {
			if step.Success {
				continue
			}
			fmt.Printf("%d. %s\n", step.Index+1, step.Name)
			if step.Error != "" {
				fmt.Printf("   Error: %s\n", step.Error)
			}
			if step.ExpectedStatus != 0 || step.ActualStatus != 0 {
				fmt.Printf("   Expected Status: %d, Actual Status: %d\n", step.ExpectedStatus, step.ActualStatus)
			}
			fmt.Printf("   Response Time: %dms\n", step.LatencyMS)
		}
		os.Exit(1)
	}
}
