package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newBeatCommand(ctx *commandContext) *cobra.Command {
	var queueName string

	cmd := &cobra.Command{
		Use:   "beat",
		Short: "Ask the daemon to run a poll cycle now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			name := strings.TrimSpace(queueName)
			if name == "" {
				name = cfg.Queue.Name
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.Beat(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Beat sent to %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "Queue to beat (defaults to queue.name)")
	return cmd
}
