// Package flow models the flow document attached to every task: an ordered
// list of workflow nodes plus an optional top-level error.
//
// The document is jointly owned by the runner and the task service, so
// decoding keeps every key this package does not know about and writes it
// back unchanged on encode.
package flow

import (
	"bytes"
	"encoding/json"
)

// TypeUserFeedback is the node type the task service appends when a
// reviewer requests a revision.
const TypeUserFeedback = "user_feedback"

// Flow is the decoded flow document.
type Flow struct {
	Nodes []Node
	Error string

	extra map[string]json.RawMessage
}

type flowJSON struct {
	Nodes []Node `json:"nodes,omitempty"`
	Error string `json:"error,omitempty"`
}

// MarshalJSON encodes the known keys and re-emits preserved unknown ones.
func (f Flow) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(flowJSON{Nodes: f.Nodes, Error: f.Error})
	if err != nil {
		return nil, err
	}
	return mergeExtra(b, f.extra)
}

// UnmarshalJSON decodes a flow document. A JSON null yields an empty flow.
func (f *Flow) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*f = Flow{}
		return nil
	}
	var known flowJSON
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := splitExtra(data, "nodes", "error")
	if err != nil {
		return err
	}
	*f = Flow{Nodes: known.Nodes, Error: known.Error, extra: extra}
	return nil
}

// Append adds n as the last node. When n has no predecessor set it is
// chained to the current last node.
func (f *Flow) Append(n Node) {
	if n.PreNode == nil && len(f.Nodes) > 0 {
		prev := f.Nodes[len(f.Nodes)-1].ID
		if prev != "" {
			n.PreNode = &prev
		}
	}
	f.Nodes = append(f.Nodes, n)
}

// LastFeedback returns the reviewer comment carried by the last node when
// that node is a user_feedback node, and "" otherwise.
func (f Flow) LastFeedback() string {
	if len(f.Nodes) == 0 {
		return ""
	}
	last := f.Nodes[len(f.Nodes)-1]
	if last.Type != TypeUserFeedback {
		return ""
	}
	return last.Content
}

// Node is one record in flow.nodes.
type Node struct {
	ID      string  `json:"id"`
	Label   string  `json:"label"`
	Type    string  `json:"type"`
	PreNode *string `json:"pre_node"`
	Status  string  `json:"status"`
	Fields  []Field `json:"fields"`
	// Content is only set on user_feedback nodes.
	Content string `json:"content,omitempty"`

	extra map[string]json.RawMessage
}

type nodeJSON Node

var nodeKeys = []string{"id", "label", "type", "pre_node", "status", "fields", "content"}

// MarshalJSON encodes the node and re-emits preserved unknown keys.
func (n Node) MarshalJSON() ([]byte, error) {
	fields := n.Fields
	if fields == nil {
		fields = []Field{}
	}
	alias := nodeJSON(n)
	alias.Fields = fields
	b, err := json.Marshal(alias)
	if err != nil {
		return nil, err
	}
	return mergeExtra(b, n.extra)
}

// UnmarshalJSON decodes a node, keeping unknown keys.
func (n *Node) UnmarshalJSON(data []byte) error {
	var alias nodeJSON
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	extra, err := splitExtra(data, nodeKeys...)
	if err != nil {
		return err
	}
	alias.extra = extra
	*n = Node(alias)
	return nil
}

// FieldType enumerates how a field value is rendered.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldTable    FieldType = "table"
	FieldLink     FieldType = "link"
	FieldLinkList FieldType = "link_list"
)

// Field is one typed value shown on a node.
type Field struct {
	Key      string    `json:"key"`
	Type     FieldType `json:"fieldType"`
	Label    string    `json:"label"`
	Required bool      `json:"required"`
	Value    any       `json:"value"`
	Choices  []Choice  `json:"choices,omitempty"`
}

// Choice is an option of a select field.
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Table is the value of a table field.
type Table struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

// AddRow appends one row.
func (t *Table) AddRow(cells ...any) {
	t.Rows = append(t.Rows, cells)
}

// Link is one entry of a link_list field.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// NewField builds a field, using key as the label when label is empty.
func NewField(key string, typ FieldType, label string, value any) Field {
	if label == "" {
		label = key
	}
	return Field{Key: key, Type: typ, Label: label, Value: value}
}

// TableField builds a required table field. Rows is never encoded as null.
func TableField(key, label string, t Table) Field {
	if t.Rows == nil {
		t.Rows = [][]any{}
	}
	f := NewField(key, FieldTable, label, t)
	f.Required = true
	return f
}

// LinkListField builds a required link_list field.
func LinkListField(key, label string, links []Link) Field {
	if links == nil {
		links = []Link{}
	}
	f := NewField(key, FieldLinkList, label, links)
	f.Required = true
	return f
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

func splitExtra(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(raw, k)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func mergeExtra(encoded []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return encoded, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
