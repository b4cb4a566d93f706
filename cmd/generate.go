package cmd

import (
	"fmt"
	"log"
	"path/filepath"

	"shadowrunner/capture"
	"shadowrunner/config"
	"shadowrunner/session"
	"shadowrunner/testgen"

	"github.com/spf13/cobra"
)

var (
	generateSessions []string
	generateAll      bool
	generateGroupBy  string
	generateOut      string
	generateService  string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate test suites from recorded sessions",
	Long: `Turn persisted sessions into Playwright test suites. Interactions can
be grouped into one test per request, per endpoint, or per session.`,
	Run: func(cmd *cobra.Command, args []string) {
		runGenerate()
	},
}

func init() {
	generateCmd.Flags().StringSliceVar(&generateSessions, "session", nil, "session id to generate from (repeatable)")
	generateCmd.Flags().BoolVar(&generateAll, "all", false, "generate from every persisted session")
	generateCmd.Flags().StringVar(&generateGroupBy, "group-by", "", "grouping strategy: none, endpoint, or session (overrides config)")
	generateCmd.Flags().StringVar(&generateOut, "out", "", "output directory (overrides config)")
	generateCmd.Flags().StringVar(&generateService, "service", "", "service name for the output layout (overrides config)")

	rootCmd.AddCommand(generateCmd)
}

func runGenerate() {
	if len(generateSessions) == 0 && !generateAll {
		log.Fatal("Nothing to generate: provide --session or --all")
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	if generateGroupBy != "" {
		cfg.Generator.GroupBy = generateGroupBy
	}
	if generateOut != "" {
		cfg.Generator.OutputDir = generateOut
	}
	if generateService != "" {
		cfg.Generator.Service = generateService
	}

	strategy, err := testgen.ParseGroupStrategy(cfg.Generator.GroupBy)
	if err != nil {
		log.Fatal("Invalid grouping strategy:", err)
	}

	store, err := session.NewStore(cfg.Session.OutputDir)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}

	var interactions []*capture.CapturedInteraction
	if generateAll {
		sessions, warnings, err := store.LoadAll()
		if err != nil {
			log.Fatal("Failed to load sessions:", err)
		}
		for _, w := range warnings {
			log.Printf("skipped %s: %s", w.Path, w.Err)
		}
		for _, s := range sessions {
			interactions = append(interactions, s.Interactions...)
		}
	} else {
		for _, id := range generateSessions {
			s := store.Load(id)
			if s == nil {
				log.Fatalf("Session not found: %s", id)
			}
			interactions = append(interactions, s.Interactions...)
		}
	}

	if len(interactions) == 0 {
		fmt.Println("No interactions to generate from.")
		return
	}

	generator, err := testgen.NewGenerator(testgen.Options{
		Framework:    cfg.Generator.Framework,
		BaseURL:      cfg.Generator.BaseURL,
		MaxBodyBytes: cfg.Generator.MaxBodyBytes,
	})
	if err != nil {
		log.Fatal("Failed to create generator:", err)
	}

	tests, err := generator.Generate(interactions, strategy)
	if err != nil {
		log.Fatal("Failed to generate tests:", err)
	}
	if len(tests) == 0 {
		fmt.Println("No tests generated (only raw gRPC interactions in input).")
		return
	}

	var written string
	if cfg.Generator.Service != "" {
		written, err = testgen.WriteServiceDir(cfg.Generator.OutputDir, cfg.Generator.Service, tests)
	} else {
		written = filepath.Join(cfg.Generator.OutputDir, testgen.ServiceTestFile)
		err = testgen.WriteBundle(written, tests)
	}
	if err != nil {
		log.Fatal("Failed to write tests:", err)
	}

	fmt.Printf("Generated %d tests from %d interactions\n", len(tests), len(interactions))
	fmt.Printf("Written to %s\n", written)
}
