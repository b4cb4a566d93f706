package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"shadowrunner/archive"
	"shadowrunner/config"
	"shadowrunner/session"

	"github.com/spf13/cobra"
)

var (
	similarThreshold float64
	cleanupOlderThan time.Duration
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and maintain recorded sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions",
	Long:  `List every persisted session with its owner, time span, and interaction count.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSessionsList()
	},
}

var sessionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate session statistics",
	Long:  `Print totals, averages, and per-user counts across all persisted sessions as JSON.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSessionsStats()
	},
}

var sessionsSimilarCmd = &cobra.Command{
	Use:   "similar <session-id>",
	Short: "Find sessions covering similar request paths",
	Long: `Rank other persisted sessions by the Jaccard similarity of their
distinct request paths against the given session.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSessionsSimilar(args[0])
	},
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old sessions and prune the archive",
	Long: `Delete persisted sessions that started before the retention cutoff.
When the archive is enabled, interactions older than the cutoff are
pruned from it as well.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSessionsCleanup()
	},
}

func init() {
	sessionsSimilarCmd.Flags().Float64Var(&similarThreshold, "threshold", 0.5, "minimum similarity score to report")
	sessionsCleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 7*24*time.Hour, "delete sessions older than this")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsStatsCmd)
	sessionsCmd.AddCommand(sessionsSimilarCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	store, err := session.NewStore(cfg.Session.OutputDir)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}

	sessions, warnings, err := store.LoadAll()
	if err != nil {
		log.Fatal("Failed to load sessions:", err)
	}
	for _, w := range warnings {
		log.Printf("skipped %s: %s", w.Path, w.Err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})

	fmt.Printf("%-38s %-16s %-20s %-10s %s\n", "ID", "User", "Started", "Duration", "Interactions")
	for _, s := range sessions {
		user := s.UserID
		if user == "" {
			user = "anonymous"
		}
		fmt.Printf("%-38s %-16s %-20s %-10s %d\n",
			s.ID,
			user,
			s.StartTime.Format("2006-01-02 15:04:05"),
			s.Duration().Round(time.Second),
			len(s.Interactions))
	}
}

func runSessionsStats() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	store, err := session.NewStore(cfg.Session.OutputDir)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}
	recorder := session.NewRecorder(store, cfg.Session.Timeout)

	stats, err := recorder.SessionStatistics()
	if err != nil {
		log.Fatal("Failed to compute statistics:", err)
	}

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		log.Fatal("Failed to encode statistics:", err)
	}
	fmt.Println(string(out))
}

func runSessionsSimilar(sessionID string) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	store, err := session.NewStore(cfg.Session.OutputDir)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}
	recorder := session.NewRecorder(store, cfg.Session.Timeout)

	matches, err := recorder.FindSimilarSessions(sessionID, similarThreshold)
	if err != nil {
		log.Fatal("Failed to compare sessions:", err)
	}

	if len(matches) == 0 {
		fmt.Printf("No sessions with similarity >= %.2f found for '%s'\n", similarThreshold, sessionID)
		return
	}

	fmt.Printf("%-38s %-16s %-12s %s\n", "ID", "User", "Similarity", "Interactions")
	for _, m := range matches {
		user := m.Session.UserID
		if user == "" {
			user = "anonymous"
		}
		fmt.Printf("%-38s %-16s %-12.2f %d\n", m.Session.ID, user, m.Similarity, len(m.Session.Interactions))
	}
}

func runSessionsCleanup() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	store, err := session.NewStore(cfg.Session.OutputDir)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}

	cutoff := time.Now().Add(-cleanupOlderThan)

	sessions, warnings, err := store.LoadAll()
	if err != nil {
		log.Fatal("Failed to load sessions:", err)
	}
	for _, w := range warnings {
		log.Printf("skipped %s: %s", w.Path, w.Err)
	}

	deleted := 0
	for _, s := range sessions {
		if s.StartTime.Before(cutoff) {
			if err := store.Delete(s.ID); err != nil {
				log.Printf("failed to delete session %s: %v", s.ID, err)
				continue
			}
			deleted++
		}
	}
	fmt.Printf("Deleted %d sessions older than %s\n", deleted, cleanupOlderThan)

	if cfg.Archive.Enabled {
		arc, err := archive.NewArchive(cfg.Archive.Path)
		if err != nil {
			log.Fatal("Failed to open archive:", err)
		}
		defer arc.Close()

		pruned, err := arc.Prune(cutoff)
		if err != nil {
			log.Fatal("Failed to prune archive:", err)
		}
		fmt.Printf("Pruned %d archived interactions\n", pruned)
	}
}
