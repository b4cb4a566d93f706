package cmd

import (
	"fmt"
	"log"

	"shadowrunner/archive"
	"shadowrunner/capture"
	"shadowrunner/config"
	"shadowrunner/filter"

	"github.com/spf13/cobra"
)

var learnLimit int

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Learn noise exclusions from archived traffic",
	Long: `Scan archived traffic for endpoints that dominate the request volume,
install them as exclusion rules, and save them to the config file so
future capture runs skip them.`,
	Run: func(cmd *cobra.Command, args []string) {
		runLearn()
	},
}

func init() {
	learnCmd.Flags().IntVar(&learnLimit, "limit", 1000, "number of recent archived interactions to scan")

	rootCmd.AddCommand(learnCmd)
}

func runLearn() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if !cfg.Archive.Enabled {
		log.Fatal("Archive is disabled: enable archive.enabled to learn from traffic")
	}

	arc, err := archive.NewArchive(cfg.Archive.Path)
	if err != nil {
		log.Fatal("Failed to open archive:", err)
	}
	defer arc.Close()

	stored, err := arc.RecentInteractions(learnLimit)
	if err != nil {
		log.Fatal("Failed to read archived traffic:", err)
	}
	if len(stored) == 0 {
		fmt.Println("No archived traffic to learn from.")
		return
	}

	interactions := make([]*capture.CapturedInteraction, 0, len(stored))
	for i := range stored {
		interactions = append(interactions, stored[i].ToCaptured())
	}

	smart := filter.NewSmartFilter(filter.NewEngine(), cfg.Filter.NoiseRatio)
	paths := smart.LearnFromInteractions(interactions)
	if len(paths) == 0 {
		fmt.Printf("No noisy endpoints found in the last %d interactions.\n", len(interactions))
		return
	}

	for _, p := range paths {
		fmt.Printf("Learned exclusion: %s\n", p)
	}

	added := cfg.AddLearnedExclusions(paths)
	if added == 0 {
		fmt.Println("All learned exclusions were already configured.")
		return
	}

	if err := config.SaveConfig(cfg, cfgFile); err != nil {
		log.Fatal("Failed to save config:", err)
	}
	fmt.Printf("Added %d new exclusions (%d already present)\n", added, len(paths)-added)
}
