package main

import (
	"context"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and model status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	model := a.bridge.ModelStatus()
	if model.Loaded {
		printStatus("Model", "%s (dimension %d)", a.cfg.Embedding.Model, model.Dimension)
	} else {
		printStatus("Model", "%s not loaded — searches use text matching", a.cfg.Embedding.Model)
	}
	printStatus("Ollama", "%s", a.cfg.Ollama.BaseURL)
	printStatus("Data dir", "%s", a.cfg.Storage.DataDir)

	counts, err := a.bridge.TableCounts(ctx)
	if err != nil {
		return err
	}
	for _, name := range []string{"issues", "pond", "schedules", "state"} {
		if n, ok := counts[name]; ok {
			printStatus(name, "%d rows", n)
		}
	}
	return nil
}
