package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Insert persists a new entry and fills in its generated fields (ID, Seq, TS).
// Missing queue names and statuses default to DefaultQueueName and pending.
func (s *Store) Insert(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("insert entry: nil entry")
	}
	if strings.TrimSpace(entry.Source) == "" {
		return errors.New("insert entry: source is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Queue == "" {
		entry.Queue = DefaultQueueName
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	if entry.Payload == nil {
		entry.Payload = Document{}
	}
	now := s.now().UTC()
	if entry.TS.IsZero() {
		entry.TS = now
	}
	entry.UpdatedAt = now

	payload, err := nullableJSON(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	info, err := nullableJSON(entry.ProcessingInfo)
	if err != nil {
		return fmt.Errorf("encode processing info: %w", err)
	}
	affected, err := encodeReferences(entry.AffectedResources)
	if err != nil {
		return fmt.Errorf("encode affected resources: %w", err)
	}

	res, err := s.execWithRetry(ctx,
		`INSERT INTO queue_entries (id, queue, source, status, priority, processing, processing_message,
			processing_info, payload, payload_hash, affected_resources, ts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Queue,
		entry.Source,
		entry.Status,
		entry.Priority,
		boolToInt(entry.Processing),
		nullableString(entry.ProcessingMessage),
		info,
		payload,
		nullableString(entry.PayloadHash),
		affected,
		formatTime(entry.TS),
		formatTime(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		entry.Seq = seq
	}
	return nil
}

// Get fetches an entry by ID. Missing entries return ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// Save durably writes the mutable fields of an entry. The payload hash is
// write-once: a stored hash is never replaced.
func (s *Store) Save(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.ID == "" {
		return errors.New("save entry: missing id")
	}
	payload, err := nullableJSON(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if payload == nil {
		payload = "{}"
	}
	info, err := nullableJSON(entry.ProcessingInfo)
	if err != nil {
		return fmt.Errorf("encode processing info: %w", err)
	}
	affected, err := encodeReferences(entry.AffectedResources)
	if err != nil {
		return fmt.Errorf("encode affected resources: %w", err)
	}
	entry.UpdatedAt = s.now().UTC()

	res, err := s.execWithRetry(ctx,
		`UPDATE queue_entries SET
			status = ?,
			priority = ?,
			processing = ?,
			processing_message = ?,
			processing_info = ?,
			payload = ?,
			payload_hash = COALESCE(NULLIF(payload_hash, ''), ?),
			affected_resources = ?,
			updated_at = ?
		WHERE id = ?`,
		entry.Status,
		entry.Priority,
		boolToInt(entry.Processing),
		nullableString(entry.ProcessingMessage),
		info,
		payload,
		nullableString(entry.PayloadHash),
		affected,
		formatTime(entry.UpdatedAt),
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save entry %s: %w", entry.ID, ErrNotFound)
	}
	return nil
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Queue    string
	Statuses []Status
	Source   string
	Limit    int
}

// List returns entries matching filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Queue != "" {
		clauses = append(clauses, "queue = ?")
		args = append(args, filter.Queue)
	}
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	query := `SELECT ` + entryColumns + ` FROM queue_entries`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	entries, err := s.queryEntriesWithRetry(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// SelectProcessing returns the entries of a queue currently claimed, oldest first.
func (s *Store) SelectProcessing(ctx context.Context, queueName string) ([]*Entry, error) {
	entries, err := s.queryEntriesWithRetry(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		WHERE queue = ? AND processing = 1
		ORDER BY priority, ts, seq`, queueName)
	if err != nil {
		return nil, fmt.Errorf("select processing: %w", err)
	}
	return entries, nil
}

// HasDuplicates reports whether another entry of the same queue and source with
// the same payload hash has already been resolved. Pending and duplicated
// entries never count as originals.
func (s *Store) HasDuplicates(ctx context.Context, entry *Entry) (bool, error) {
	if entry == nil || entry.PayloadHash == "" {
		return false, nil
	}
	var count int
	err := retryOnBusy(ensureContext(ctx), func() error {
		return s.db.QueryRowContext(ensureContext(ctx),
			`SELECT COUNT(1) FROM queue_entries
			WHERE queue = ? AND source = ? AND payload_hash = ? AND id != ?
			AND status NOT IN (?, ?)`,
			entry.Queue, entry.Source, entry.PayloadHash, entry.ID,
			StatusPending, StatusDuplicated,
		).Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("count duplicates: %w", err)
	}
	return count > 0, nil
}

// ResetProcessing clears the processing flag on every claimed entry of a
// queue, returning how many were released. It is an operator recovery tool for
// entries stranded by a crash mid-handler.
func (s *Store) ResetProcessing(ctx context.Context, queueName string) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE queue_entries SET processing = 0, updated_at = ? WHERE queue = ? AND processing = 1`,
		formatTime(s.now()), queueName)
	if err != nil {
		return 0, fmt.Errorf("reset processing: %w", err)
	}
	return res.RowsAffected()
}
