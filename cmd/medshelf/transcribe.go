package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/medshelf/internal/config"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <pdf>",
	Short: "Transcribe a single PDF's pages verbatim",
	Long: `Transcribe each page of a PDF to a markdown transcript, without
structured extraction, exam standardization or summarization.

Pages run under the same self-consistency protocol as full processing,
so n_extractions > 1 still votes and scores agreement confidence.

Examples:
  medshelf transcribe scans/exames_2024.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pdfPath := args[0]
		if _, err := os.Stat(pdfPath); err != nil {
			return fmt.Errorf("cannot read %s: %w", pdfPath, err)
		}

		logger := newLogger()
		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}

		p, err := newPipeline(cm.Get(), "", logger)
		if err != nil {
			return err
		}
		return p.TranscribeDocument(cmd.Context(), pdfPath)
	},
}

func init() {
	rootCmd.AddCommand(transcribeCmd)
}
