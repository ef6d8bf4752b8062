package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"taskbeat/internal/config"
	"taskbeat/internal/queue"
	"taskbeat/internal/task"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the task queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		source   string
		limit    int
		output   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			filter := queue.ListFilter{Source: strings.TrimSpace(source), Limit: limit}
			for _, value := range statuses {
				status, ok := queue.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				filter.Queue = cfg.Queue.Name
				entries, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []*queue.Entry{}
				}
				if handled, err := writeStructured(cmd, format, entries); handled {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(queueListHeaders, buildQueueListRows(entries), queueListAligns))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&source, "source", "", "Filter by entry source")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to show (0 for all)")
	addOutputFlag(cmd, &output, formatTable)
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				stats, err := store.Stats(cmd.Context(), cfg.Queue.Name)
				if err != nil {
					return err
				}
				health, err := store.Health(cmd.Context(), cfg.Queue.Name)
				if err != nil {
					return err
				}
				report := struct {
					Queue  string               `json:"queue" yaml:"queue"`
					Counts map[queue.Status]int `json:"counts" yaml:"counts"`
					Health queue.HealthSummary  `json:"health" yaml:"health"`
				}{Queue: cfg.Queue.Name, Counts: stats, Health: health}
				if handled, err := writeStructured(cmd, format, report); handled {
					return err
				}

				rows := buildQueueStatsRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				fmt.Fprintf(out, "Total %d, claimable %d, processing %d, needing attention %d\n",
					health.Total, health.Claimable, health.Processing, health.Problem)
				return nil
			})
		},
	}

	addOutputFlag(cmd, &output, formatTable)
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one entry with its payload and diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				entry, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					if queue.IsNotFound(err) {
						return fmt.Errorf("entry %s not found", args[0])
					}
					return err
				}
				if handled, err := writeStructured(cmd, format, entry); handled {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderTable([]string{"Field", "Value"}, buildEntryDetailRows(entry), nil))
				fmt.Fprintln(out, "Payload:")
				return writeYAML(cmd, entry.Payload)
			})
		},
	}

	addOutputFlag(cmd, &output, formatTable)
	return cmd
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Release entries stuck in processing so the next beat claims them again",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				released, err := store.ResetProcessing(cmd.Context(), cfg.Queue.Name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released %d processing entries\n", released)
				return nil
			})
		},
	}
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var (
		source      string
		payloadJSON string
		payloadFile string
		priority    int
		immediate   bool
		output      string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue an entry through the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			doc, err := readPayload(payloadJSON, payloadFile)
			if err != nil {
				return err
			}
			req := task.Request{Source: strings.TrimSpace(source), Payload: doc}
			if cmd.Flags().Changed("priority") {
				req.Priority = &priority
			}
			if cmd.Flags().Changed("immediate") {
				req.Immediate = &immediate
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			entry, err := client.Enqueue(cmd.Context(), cfg.Queue.Name, req)
			if err != nil {
				return err
			}
			if handled, err := writeStructured(cmd, format, entry); handled {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s (%s, priority %d)\n", entry.ID, entry.Source, entry.Priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Task name or source the entry is dispatched by")
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "Payload as a JSON object")
	cmd.Flags().StringVarP(&payloadFile, "file", "f", "", "Read the payload from a JSON file")
	cmd.Flags().IntVar(&priority, "priority", 0, "Entry priority (lower runs first)")
	cmd.Flags().BoolVar(&immediate, "immediate", false, "Process right away instead of on the next beat")
	addOutputFlag(cmd, &output, formatTable)
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func readPayload(inline, path string) (queue.Document, error) {
	if inline != "" && path != "" {
		return nil, errors.New("specify only one of --payload or --file")
	}
	data := []byte(inline)
	if path != "" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, err
		}
		if data, err = os.ReadFile(expanded); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return queue.Document{}, nil
	}
	var doc queue.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return doc, nil
}
