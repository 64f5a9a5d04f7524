package main

import (
	"github.com/spf13/cobra"

	"github.com/chaos-io/rembg/rembg"
	"github.com/chaos-io/rembg/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically remove backgrounds from images in an inbox directory",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().String("inbox", "", "Directory to read images from")
	watchCmd.Flags().String("outbox", "", "Directory to write PNGs to")
	watchCmd.Flags().String("schedule", "", "cron schedule, e.g. \"@every 30s\"")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetString("inbox"); v != "" {
		cfg.Watch.Inbox = v
	}
	if v, _ := cmd.Flags().GetString("outbox"); v != "" {
		cfg.Watch.Outbox = v
	}
	if v, _ := cmd.Flags().GetString("schedule"); v != "" {
		cfg.Watch.Schedule = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	chain, err := rembg.NewChainFromConfig(cfg)
	if err != nil {
		return err
	}
	return watch.NewSweeper(chain, cfg.Watch).Run(cmd.Context())
}
