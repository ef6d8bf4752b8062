package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SaveResource upserts a resource document. A missing id is generated and
// written back into the document. The stored reference is returned.
func (s *Store) SaveResource(ctx context.Context, doc Document) (Reference, error) {
	if doc == nil {
		return Reference{}, errors.New("save resource: nil document")
	}
	rt := doc.ResourceType()
	if rt == "" {
		return Reference{}, errors.New("save resource: resourceType is required")
	}
	if doc.ID() == "" {
		doc["id"] = uuid.NewString()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return Reference{}, fmt.Errorf("encode resource: %w", err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO resources (resource_type, id, resource, ts) VALUES (?, ?, ?, ?)
		ON CONFLICT (resource_type, id) DO UPDATE SET resource = excluded.resource, ts = excluded.ts`,
		rt, doc.ID(), string(data), formatTime(s.now()))
	if err != nil {
		return Reference{}, fmt.Errorf("save resource: %w", err)
	}
	return Reference{ResourceType: rt, ID: doc.ID()}, nil
}

// GetResource loads a stored resource by reference.
func (s *Store) GetResource(ctx context.Context, ref Reference) (Document, error) {
	var raw string
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT resource FROM resources WHERE resource_type = ? AND id = ?`,
		ref.ResourceType, ref.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode resource %s: %w", ref, err)
	}
	return doc, nil
}
