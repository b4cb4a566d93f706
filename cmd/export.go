package cmd

import (
	"fmt"
	"log"

	"shadowrunner/config"
	"shadowrunner/export"
	"shadowrunner/session"

	"github.com/spf13/cobra"
)

var (
	exportSessions []string
	exportOutput   string
	exportPretty   bool
	exportCompress bool
	importInput    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions to a portable bundle",
	Long: `Bundle persisted sessions into a single JSON file for backup, sharing,
or CI use. Without --session every persisted session is exported.`,
	Run: func(cmd *cobra.Command, args []string) {
		runExport()
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import sessions from a bundle",
	Long: `Load sessions from an exported bundle into the local store. Imported
sessions get fresh ids so repeated imports never collide.`,
	Run: func(cmd *cobra.Command, args []string) {
		runImport()
	},
}

func init() {
	exportCmd.Flags().StringSliceVar(&exportSessions, "session", nil, "session id to export (repeatable; default all)")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "output file path")
	exportCmd.Flags().BoolVar(&exportPretty, "pretty", false, "indent the exported JSON")
	exportCmd.Flags().BoolVar(&exportCompress, "compress", false, "gzip the exported bundle")
	exportCmd.MarkFlagRequired("output")

	importCmd.Flags().StringVar(&importInput, "input", "", "input file path")
	importCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func runExport() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	store, err := session.NewStore(cfg.Session.OutputDir)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}

	manager := export.NewExportManager(store, export.Options{
		PrettyPrint: exportPretty,
		Compress:    exportCompress,
	})

	if err := manager.ExportSessions(exportSessions, exportOutput); err != nil {
		log.Fatal("Failed to export sessions:", err)
	}

	if len(exportSessions) == 0 {
		fmt.Printf("Exported all sessions to '%s'\n", exportOutput)
	} else {
		fmt.Printf("Exported %d sessions to '%s'\n", len(exportSessions), exportOutput)
	}
}

func runImport() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	store, err := session.NewStore(cfg.Session.OutputDir)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}

	manager := export.NewExportManager(store, export.Options{})

	results, err := manager.ImportSessions(importInput)
	if err != nil {
		log.Fatal("Failed to import sessions:", err)
	}

	imported := 0
	for _, r := range results {
		if r.Error != "" {
			log.Printf("skipped session %s: %s", r.OriginalID, r.Error)
			continue
		}
		imported++
		fmt.Printf("Imported %s as %s (%d interactions)\n", r.OriginalID, r.SessionID, r.Interactions)
	}
	fmt.Printf("Imported %d of %d sessions from '%s'\n", imported, len(results), importInput)
}
