package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wenwu/saas-platform/access-service/internal/nodeagent"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List the clients in the xray config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := nodeagent.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		clients, err := nodeagent.NewXrayConfig(cfg.XrayConfigPath).ListClients()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUUID\tEMAIL")
		for _, c := range clients {
			fmt.Fprintf(w, "%s\t%s\t%s\n", dash(c.ID), dash(c.UUID), dash(c.Email))
		}
		return w.Flush()
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
