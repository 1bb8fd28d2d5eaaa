package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// TechEntry is one role to technology label pair.
type TechEntry struct {
	Role  string
	Label string
}

// TechStack is an ordered mapping of role name to a scalar technology label.
// Document order is preserved through YAML and JSON.
type TechStack []TechEntry

// Get returns the label for role.
func (ts TechStack) Get(role string) (string, bool) {
	for _, e := range ts {
		if e.Role == role {
			return e.Label, true
		}
	}
	return "", false
}

// Set replaces the label of an existing role or appends a new one.
func (ts *TechStack) Set(role, label string) {
	for i, e := range *ts {
		if e.Role == role {
			(*ts)[i].Label = label
			return
		}
	}
	*ts = append(*ts, TechEntry{Role: role, Label: label})
}

// Roles returns the role names in order.
func (ts TechStack) Roles() []string {
	out := make([]string, len(ts))
	for i, e := range ts {
		out[i] = e.Role
	}
	return out
}

// String renders the stack as "role: label" pairs separated by ", ".
func (ts TechStack) String() string {
	parts := make([]string, len(ts))
	for i, e := range ts {
		parts[i] = e.Role + ": " + e.Label
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON writes the stack as a JSON object in role order.
func (ts TechStack) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range ts {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Role)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping key order. Values must be
// scalars; numbers and booleans are kept in their literal form.
func (ts *TechStack) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("techStack: %w", err)
	}
	if tok == nil {
		*ts = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("techStack: expected object, got %v", tok)
	}

	var out TechStack
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("techStack: %w", err)
		}
		role, _ := kt.(string)

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("techStack: role %q: %w", role, err)
		}
		switch v := raw.(type) {
		case nil:
			out.Set(role, "")
		case string:
			out.Set(role, v)
		case json.Number:
			out.Set(role, v.String())
		case bool:
			out.Set(role, fmt.Sprint(v))
		default:
			return fmt.Errorf("techStack: role %q: value is not a scalar", role)
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("techStack: %w", err)
	}
	*ts = out
	return nil
}

// MarshalYAML writes the stack as a YAML mapping in role order.
func (ts TechStack) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range ts {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Role},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Label},
		)
	}
	return node, nil
}

// UnmarshalYAML reads a YAML mapping, keeping key order.
func (ts *TechStack) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*ts = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("techStack: line %d: expected mapping", node.Line)
	}

	var out TechStack
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind == yaml.AliasNode && v.Alias != nil {
			v = v.Alias
		}
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("techStack: line %d: role %q: value is not a scalar", v.Line, k.Value)
		}
		label := v.Value
		if v.Tag == "!!null" {
			label = ""
		}
		out.Set(k.Value, label)
	}
	*ts = out
	return nil
}
