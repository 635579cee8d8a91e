package info

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	_ yaml.Unmarshaler = (*Info)(nil)
	_ yaml.Marshaler   = (*Info)(nil)
)

// UnmarshalYAML fills the Info from a YAML mapping, keeping document order.
// Sequences must only hold integers.
func (in *Info) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: expected a mapping", ErrUnsupportedType, node.Line)
	}

	in.Clear()
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		switch val.Kind {
		case yaml.MappingNode:
			sub := New()
			if err := sub.UnmarshalYAML(val); err != nil {
				return err
			}
			in.set(key, KindInfo, sub)
		case yaml.SequenceNode:
			list := make([]int, 0, len(val.Content))
			for _, item := range val.Content {
				var v int
				if item.ShortTag() != "!!int" {
					return fmt.Errorf("%w: line %d: %q lists must hold integers", ErrUnsupportedType, item.Line, key)
				}
				if err := item.Decode(&v); err != nil {
					return err
				}
				if err := checkInt(int64(v)); err != nil {
					return fmt.Errorf("line %d: %q: %w", item.Line, key, err)
				}
				list = append(list, v)
			}
			in.set(key, KindIntList, list)
		case yaml.ScalarNode:
			if err := in.setScalar(key, val); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: line %d: %q", ErrUnsupportedType, val.Line, key)
		}
	}
	return nil
}

func (in *Info) setScalar(key string, val *yaml.Node) error {
	switch val.ShortTag() {
	case "!!int":
		var v int
		if err := val.Decode(&v); err != nil {
			return err
		}
		if err := checkInt(int64(v)); err != nil {
			return fmt.Errorf("line %d: %q: %w", val.Line, key, err)
		}
		in.set(key, KindInt, v)
	case "!!float":
		var v float64
		if err := val.Decode(&v); err != nil {
			return err
		}
		in.set(key, KindDouble, v)
	case "!!bool":
		var v bool
		if err := val.Decode(&v); err != nil {
			return err
		}
		in.set(key, KindBool, v)
	case "!!str":
		in.set(key, KindString, val.Value)
	default:
		return fmt.Errorf("%w: line %d: %q has tag %s", ErrUnsupportedType, val.Line, key, val.ShortTag())
	}
	return nil
}

// MarshalYAML renders the Info as an ordered YAML mapping.
func (in *Info) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	if in == nil {
		return node, nil
	}
	for _, key := range in.keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
		var valNode *yaml.Node
		switch val := in.entries[key].val.(type) {
		case int:
			valNode = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(val)}
		case float64:
			valNode = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: yamlFloat(val)}
		case bool:
			valNode = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(val)}
		case string:
			valNode = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: val}
		case *Info:
			sub, err := val.MarshalYAML()
			if err != nil {
				return nil, err
			}
			valNode = sub.(*yaml.Node)
		case []int:
			valNode = &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
			for _, v := range val {
				valNode.Content = append(valNode.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)})
			}
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

func yamlFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
