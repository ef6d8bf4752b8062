package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Claim atomically marks up to Limit unclaimed entries per quota status as
// processing and returns them sorted by priority. Pending entries are picked
// by priority, then age; other statuses by age alone. The selection and the
// processing flip happen in one UPDATE ... RETURNING statement, so concurrent
// claims never return the same entry.
func (s *Store) Claim(ctx context.Context, queueName string, quotas []Quota) ([]*Entry, error) {
	var (
		parts []string
		args  []any
	)
	now := formatTime(s.now())
	args = append(args, now, queueName)
	for _, quota := range quotas {
		if quota.Limit <= 0 || quota.Status == "" {
			continue
		}
		order := "ts, seq"
		if quota.Status == StatusPending {
			order = "priority, ts, seq"
		}
		// SQLite only allows ORDER BY/LIMIT on the last arm of a compound
		// select, so each arm is wrapped in its own subquery.
		parts = append(parts, `SELECT seq FROM (SELECT seq FROM queue_entries
			WHERE queue = ? AND processing = 0 AND status = ?
			ORDER BY `+order+` LIMIT ?)`)
		args = append(args, queueName, quota.Status, quota.Limit)
	}
	if len(parts) == 0 {
		return nil, nil
	}

	query := `UPDATE queue_entries SET processing = 1, updated_at = ?
		WHERE queue = ? AND processing = 0 AND seq IN (` + strings.Join(parts, " UNION ") + `)
		RETURNING ` + entryColumns

	entries, err := s.queryEntriesWithRetry(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim entries: %w", err)
	}
	sortByPriority(entries)
	return entries, nil
}

func sortByPriority(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.TS.Equal(b.TS) {
			return a.TS.Before(b.TS)
		}
		return a.Seq < b.Seq
	})
}
