package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tarnlabs/tarn/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a document into the pond",
	Long: `Ingest content into the pond, one entry per paragraph.

Examples:
  tarn ingest --text "standup moved to 10am" --source chat
  tarn ingest --file ./meeting-notes.pdf --source meetings
  tarn ingest --file ./report.html --source web --context "Q3 planning"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		source, _ := cmd.Flags().GetString("source")
		contextLabel, _ := cmd.Flags().GetString("context")

		if (text == "") == (file == "") {
			return fmt.Errorf("exactly one of --text or --file is required")
		}

		if file != "" {
			extracted, err := ingest.ExtractFile(file)
			if err != nil {
				return err
			}
			text = extracted
		}

		chunks := ingest.SplitParagraphs(text)
		if len(chunks) == 0 {
			return fmt.Errorf("nothing to ingest")
		}

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		fieldsList := make([]map[string]any, len(chunks))
		for i, chunk := range chunks {
			fieldsList[i] = map[string]any{
				"content": chunk,
				"context": contextLabel,
				"source":  source,
			}
		}

		entries, err := a.bridge.AddEntries(ctx, fieldsList)
		if err != nil {
			return err
		}

		printSuccess("Stored %d pond entries from %s", len(entries), sourceLabel(text, file))
		return nil
	},
}

func sourceLabel(text, file string) string {
	if file != "" {
		return file
	}
	if len(text) > 40 {
		return fmt.Sprintf("%.40s…", text)
	}
	return "text"
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("file", "", "file to ingest (pdf, html, or plain text)")
	ingestCmd.Flags().String("source", "cli", "source label for the entries")
	ingestCmd.Flags().String("context", "", "context label for the entries")
}
