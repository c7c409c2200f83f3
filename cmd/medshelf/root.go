package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/medshelf/version"
)

var (
	cfgFile string
	homeDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "medshelf",
	Short: "Medical exam report extraction and summarization pipeline",
	Long: `Medshelf turns scanned medical exam PDFs into structured records,
per-page transcripts and document-level clinical summaries using
vision-capable language models.

The pipeline includes:
  - Page-level extraction with self-consistency voting
  - Transcription confidence scoring for human-review triage
  - Exam name standardization with a persistent cache
  - Incremental, token-budget-aware document summarization`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.medshelf/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "medshelf home directory (default: ~/.medshelf)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.AddCommand(versionCmd)
}
