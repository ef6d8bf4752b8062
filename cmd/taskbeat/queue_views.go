package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskbeat/internal/queue"
)

const messageWidth = 48

func buildQueueListRows(entries []*queue.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.Seq, 10),
			e.ID,
			e.Source,
			statusTitle(e.Status),
			strconv.Itoa(e.Priority),
			yesNo(e.Processing),
			formatTimestamp(e.TS),
			truncate(firstLine(e.ProcessingMessage), messageWidth),
		})
	}
	return rows
}

var queueListHeaders = []string{"Seq", "ID", "Source", "Status", "Priority", "Processing", "Created", "Message"}

var queueListAligns = []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}

// buildQueueStatsRows lists non-zero counts in lifecycle order.
func buildQueueStatsRows(stats map[queue.Status]int) [][]string {
	var rows [][]string
	for _, status := range queue.AllStatuses() {
		count := stats[status]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{statusTitle(status), strconv.Itoa(count)})
	}
	return rows
}

func buildEntryDetailRows(e *queue.Entry) [][]string {
	refs := make([]string, 0, len(e.AffectedResources))
	for _, ref := range e.AffectedResources {
		refs = append(refs, ref.String())
	}
	rows := [][]string{
		{"ID", e.ID},
		{"Queue", e.Queue},
		{"Source", e.Source},
		{"Status", statusTitle(e.Status)},
		{"Priority", strconv.Itoa(e.Priority)},
		{"Processing", yesNo(e.Processing)},
		{"Payload hash", e.PayloadHash},
		{"Affected", strings.Join(refs, ", ")},
		{"Created", formatTimestamp(e.TS)},
		{"Updated", formatTimestamp(e.UpdatedAt)},
	}
	if e.ProcessingMessage != "" {
		rows = append(rows, []string{"Message", e.ProcessingMessage})
	}
	if e.ProcessingInfo != nil {
		rows = append(rows, []string{"Info", fmt.Sprintf("%v", e.ProcessingInfo)})
	}
	return rows
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func firstLine(value string) string {
	line, _, _ := strings.Cut(value, "\n")
	return line
}
