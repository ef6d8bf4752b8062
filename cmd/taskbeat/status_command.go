package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"taskbeat/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue and readiness status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var lines []string

			lines = append(lines, renderSectionHeader("Daemon", colorize)...)
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, statusErr := client.Status(cmd.Context())
			if statusErr != nil {
				lines = append(lines, renderStatusLine("Daemon", statusWarn, "not reachable at "+client.addr, colorize))
			} else {
				lines = append(lines,
					renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize),
					renderStatusLine("Queue", statusInfo, status.Queue, colorize),
					renderStatusLine("Tasks", statusInfo, joinOrNone(status.Tasks), colorize),
					renderStatusLine("Resource types", statusInfo, joinOrNone(status.ResourceTypes), colorize),
					renderStatusLine("Beat sources", statusInfo, strings.Join(append([]string{"http"}, status.Sources...), ", "), colorize),
					renderStatusLine("In flight", statusInfo, fmt.Sprintf("%d", status.InFlight), colorize),
				)
				problemKind := statusOK
				if status.Health.Problem > 0 {
					problemKind = statusWarn
				}
				lines = append(lines, renderStatusLine("Entries", problemKind,
					fmt.Sprintf("%d total, %d claimable, %d needing attention",
						status.Health.Total, status.Health.Claimable, status.Health.Problem), colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Readiness", colorize)...)
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				// The running daemon holds the API address itself.
				if statusErr == nil && result.Name == "API listener" {
					lines = append(lines, renderStatusLine(result.Name, statusOK, "served by daemon", colorize))
					continue
				}
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}
