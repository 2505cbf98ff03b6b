package templates

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"hogflow/pkg/hog"
)

// UnmarshalYAML decodes an input schema entry. The default value is read from the
// node tree so that dictionary defaults keep the order they are written in.
func (s *InputSchema) UnmarshalYAML(node *yaml.Node) error {
	type plain InputSchema
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = InputSchema(p)

	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "default" {
			continue
		}
		v, err := NodeValue(node.Content[i+1])
		if err != nil {
			return fmt.Errorf("input %q default: %w", s.Key, err)
		}
		s.Default = v
	}
	return nil
}

func (s InputSchema) MarshalYAML() (interface{}, error) {
	type plain InputSchema
	out := struct {
		plain   `yaml:",inline"`
		Default interface{} `yaml:"default,omitempty"`
	}{plain: plain(s)}
	if !s.Default.IsNull() {
		out.Default = valueNode(s.Default)
	}
	return out, nil
}

// NodeValue converts a YAML node into a hog value, keeping mapping order.
func NodeValue(n *yaml.Node) (hog.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return hog.Null(), nil
		}
		return NodeValue(n.Content[0])
	case yaml.AliasNode:
		return NodeValue(n.Alias)
	case yaml.MappingNode:
		m := hog.NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := NodeValue(n.Content[i+1])
			if err != nil {
				return hog.Null(), err
			}
			m.Set(n.Content[i].Value, v)
		}
		return hog.MapValue(m), nil
	case yaml.SequenceNode:
		items := make([]hog.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := NodeValue(c)
			if err != nil {
				return hog.Null(), err
			}
			items = append(items, v)
		}
		return hog.ListValue(items...), nil
	case yaml.ScalarNode:
		var x interface{}
		if err := n.Decode(&x); err != nil {
			return hog.Null(), err
		}
		return hog.FromGo(x), nil
	}
	return hog.Null(), fmt.Errorf("unsupported YAML node kind %d", n.Kind)
}

func valueNode(v hog.Value) *yaml.Node {
	switch v.Kind() {
	case hog.KindMap:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		v.Map().Range(func(k string, val hog.Value) bool {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				valueNode(val))
			return true
		})
		return n
	case hog.KindList, hog.KindTuple:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, it := range v.Items() {
			n.Content = append(n.Content, valueNode(it))
		}
		return n
	}
	n := &yaml.Node{}
	if err := n.Encode(v.Interface()); err != nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
	return n
}
