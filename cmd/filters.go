package cmd

import (
	"encoding/json"
	"fmt"
	"log"

	"shadowrunner/archive"
	"shadowrunner/capture"
	"shadowrunner/config"

	"github.com/spf13/cobra"
)

var filtersLimit int

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "Inspect the capture filter rules",
}

var filtersStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Audit the configured rules against archived traffic",
	Long: `Print the configured rule set, then replay recent archived traffic
through it and report how much would be captured versus excluded and
which rules fire most.`,
	Run: func(cmd *cobra.Command, args []string) {
		runFiltersStats()
	},
}

func init() {
	filtersStatsCmd.Flags().IntVar(&filtersLimit, "limit", 1000, "number of recent archived interactions to audit")

	filtersCmd.AddCommand(filtersStatsCmd)
	rootCmd.AddCommand(filtersCmd)
}

func runFiltersStats() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	engine := buildRuleEngine(cfg)

	fmt.Printf("%-30s %-10s %-10s %s\n", "Rule", "Priority", "Action", "Active")
	for _, r := range engine.Rules() {
		fmt.Printf("%-30s %-10d %-10s %t\n", r.Name, r.Priority, r.Action, r.Active())
	}

	if !cfg.Archive.Enabled {
		fmt.Println("\nArchive is disabled; nothing to audit.")
		return
	}

	arc, err := archive.NewArchive(cfg.Archive.Path)
	if err != nil {
		log.Fatal("Failed to open archive:", err)
	}
	defer arc.Close()

	stored, err := arc.RecentInteractions(filtersLimit)
	if err != nil {
		log.Fatal("Failed to read archived traffic:", err)
	}
	if len(stored) == 0 {
		fmt.Println("\nNo archived traffic to audit.")
		return
	}

	interactions := make([]*capture.CapturedInteraction, 0, len(stored))
	for i := range stored {
		interactions = append(interactions, stored[i].ToCaptured())
	}

	stats := engine.Statistics(interactions)
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		log.Fatal("Failed to encode statistics:", err)
	}
	fmt.Printf("\nAudit of last %d archived interactions:\n%s\n", len(interactions), string(out))
}
