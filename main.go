package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/rembg"
	"github.com/chaos-io/rembg/util"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:               "rembg",
	Short:             "Remove the background of an image and write a transparent PNG",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runRemove,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	rootCmd.Flags().StringP("input", "i", "", "Input image path or http(s) URL")
	rootCmd.Flags().StringP("output", "o", "", "Output PNG path")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return err
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		c.LogLevel = lvl
	}
	util.SetupLogger(c.LogLevel)

	cfg = c
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	if in, _ := cmd.Flags().GetString("input"); in != "" {
		cfg.Input = in
	}
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		cfg.Output = out
	}

	chain, err := rembg.NewChainFromConfig(cfg)
	if err != nil {
		return err
	}

	defer util.Trace("remove background")()
	res, err := rembg.RemoveFile(cmd.Context(), chain, cfg.Input, cfg.Output)
	if err != nil {
		return fmt.Errorf("remove background from %s: %w", cfg.Input, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Background removed using %s: %s\n", res.Method, cfg.Output)
	return nil
}
