package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// configTemplate is filled from the wizard answers. Secrets are written
// as environment references so the file itself stays shareable.
const configTemplate = `version: "1"

storage:
  path: %q

conversations:
  idle_threshold: 15m
  platform_idle_thresholds:
    voice: 5m
  stuck_threshold: 30m
  max_attempts: 3

pipeline:
  extractor_url: %q
  extractor_token: ${REVERIE_EXTRACTOR_TOKEN:-}

delivery:
  max_retries: 3
  backoff_base: 1m
  telegram:
    token: ${TELEGRAM_BOT_TOKEN:-}

jobs:
  cooldown: 50m

gateway:
  bind: %q
  auth_token: ${REVERIE_AUTH_TOKEN:-}

scheduler:
  enabled: %v
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Interactively generate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "reverie.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", path)
			}

			var (
				dbPath       = "reverie.db"
				extractorURL string
				bind         = "127.0.0.1:8080"
				scheduler    = true
			)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Database path").
						Description("SQLite file holding conversations, events, and the knowledge graph").
						Value(&dbPath),
					huh.NewInput().
						Title("Extraction service URL").
						Description("Leave empty to run without enrichment").
						Value(&extractorURL),
					huh.NewInput().
						Title("Gateway bind address").
						Value(&bind),
					huh.NewConfirm().
						Title("Enable built-in scheduler?").
						Description("Disable if an external scheduler will hit the job endpoints").
						Value(&scheduler),
				),
			)
			if err := form.Run(); err != nil {
				return fmt.Errorf("init cancelled: %w", err)
			}

			content := fmt.Sprintf(configTemplate, dbPath, extractorURL, bind, scheduler)
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}

			fmt.Printf("Wrote %s\nSet TELEGRAM_BOT_TOKEN and REVERIE_AUTH_TOKEN in the environment before starting.\n", path)
			return nil
		},
	}
}
