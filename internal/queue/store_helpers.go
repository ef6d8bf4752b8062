package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const entryColumns = "seq, id, queue, source, status, priority, processing, processing_message, processing_info, payload, payload_hash, affected_resources, ts, updated_at"

// timeLayout is fixed width so lexical order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		seq         int64
		id          string
		queueName   string
		source      string
		statusStr   string
		priority    int
		processing  int
		message     sql.NullString
		infoRaw     sql.NullString
		payloadRaw  string
		payloadHash sql.NullString
		affectedRaw sql.NullString
		tsRaw       string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&seq,
		&id,
		&queueName,
		&source,
		&statusStr,
		&priority,
		&processing,
		&message,
		&infoRaw,
		&payloadRaw,
		&payloadHash,
		&affectedRaw,
		&tsRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	entry := &Entry{
		Seq:               seq,
		ID:                id,
		Queue:             queueName,
		Source:            source,
		Status:            Status(statusStr),
		Priority:          priority,
		Processing:        processing != 0,
		ProcessingMessage: message.String,
		PayloadHash:       payloadHash.String,
	}
	if err := json.Unmarshal([]byte(payloadRaw), &entry.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of entry %s: %w", id, err)
	}
	if infoRaw.Valid && infoRaw.String != "" {
		if err := json.Unmarshal([]byte(infoRaw.String), &entry.ProcessingInfo); err != nil {
			return nil, fmt.Errorf("decode processing info of entry %s: %w", id, err)
		}
	}
	if affectedRaw.Valid && affectedRaw.String != "" {
		if err := json.Unmarshal([]byte(affectedRaw.String), &entry.AffectedResources); err != nil {
			return nil, fmt.Errorf("decode affected resources of entry %s: %w", id, err)
		}
	}
	if ts, err := parseTimeString(tsRaw); err == nil {
		entry.TS = ts
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		entry.UpdatedAt = updated
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// nullableJSON encodes value, mapping nil to SQL NULL.
func nullableJSON(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func encodeReferences(refs []Reference) (any, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	return nullableJSON(refs)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
