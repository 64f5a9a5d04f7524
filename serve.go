package main

import (
	"github.com/spf13/cobra"

	"github.com/chaos-io/rembg/rembg"
	"github.com/chaos-io/rembg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve background removal over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	chain, err := rembg.NewChainFromConfig(cfg)
	if err != nil {
		return err
	}
	return server.New(chain, cfg.Server).Run(cmd.Context())
}
