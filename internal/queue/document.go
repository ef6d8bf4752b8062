package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a JSON object payload. Resources are documents carrying a
// "resourceType" and, once stored, an "id".
type Document map[string]any

// Resource is anything a handler can hand back to the outcome machine; its
// document form becomes the entry's payload snapshot.
type Resource interface {
	Document() Document
}

// Document returns d itself so plain documents satisfy Resource.
func (d Document) Document() Document { return d }

// ResourceType returns the "resourceType" field or "".
func (d Document) ResourceType() string {
	value, _ := d["resourceType"].(string)
	return value
}

// ID returns the "id" field or "".
func (d Document) ID() string {
	value, _ := d["id"].(string)
	return value
}

// Reference builds a reference to the document when it has both a type and an id.
func (d Document) Reference() (Reference, bool) {
	rt, id := d.ResourceType(), d.ID()
	if rt == "" || id == "" {
		return Reference{}, false
	}
	return Reference{ResourceType: rt, ID: id}, true
}

// Clone returns a deep copy by round-tripping through JSON.
func (d Document) Clone() (Document, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnmarshalJSON decodes numbers as json.Number so integers beyond 2^53
// survive storage and copies unchanged.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*d = raw
	return nil
}

// MarshalYAML renders json.Number values as YAML numbers instead of strings.
func (d Document) MarshalYAML() (any, error) {
	if d == nil {
		return nil, nil
	}
	return plainNumbers(map[string]any(d)), nil
}

func plainNumbers(v any) any {
	switch value := v.(type) {
	case json.Number:
		tag := "!!int"
		if strings.ContainsAny(value.String(), ".eE") {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value.String()}
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = plainNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = plainNumbers(item)
		}
		return out
	default:
		return v
	}
}

// Reference points at a stored resource. It encodes as {"reference": "Type/id"}.
type Reference struct {
	ResourceType string
	ID           string
}

// String renders the reference as "Type/id".
func (r Reference) String() string {
	return r.ResourceType + "/" + r.ID
}

// ParseReference parses "Type/id".
func ParseReference(value string) (Reference, error) {
	rt, id, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok || rt == "" || id == "" || strings.Contains(id, "/") {
		return Reference{}, fmt.Errorf("invalid reference %q", value)
	}
	return Reference{ResourceType: rt, ID: id}, nil
}

type referenceJSON struct {
	Reference string `json:"reference"`
}

func (r Reference) MarshalJSON() ([]byte, error) {
	return json.Marshal(referenceJSON{Reference: r.String()})
}

func (r *Reference) UnmarshalJSON(data []byte) error {
	var raw referenceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseReference(raw.Reference)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalYAML renders the reference as "Type/id".
func (r Reference) MarshalYAML() (any, error) {
	return r.String(), nil
}

// Document lets a bare reference stand in for its resource, so outcome
// strategies can point at resources the handler never loaded.
func (r Reference) Document() Document {
	return Document{"resourceType": r.ResourceType, "id": r.ID}
}
