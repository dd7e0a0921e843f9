package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "node-agent",
	Short: "Proxy node control agent",
	Long: `node-agent runs on every proxy node. It adds and removes xray clients
on behalf of the access service and hands out client links.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/node-agent/config.yaml", "path to the agent config file")
	rootCmd.AddCommand(serveCmd, clientsCmd)
}
