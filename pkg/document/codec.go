package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxDepth bounds nesting on decode so hostile payloads cannot exhaust the
// stack.
const maxDepth = 512

var errTooDeep = errors.New("document nested too deeply")

// Parse decodes a single JSON document.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// MarshalJSON encodes v with map keys in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	v.encode(&sb)
	return []byte(sb.String()), nil
}

func (v Value) encode(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		sb.WriteString(v.s)
	case KindString:
		writeString(sb, v.s)
	case KindList:
		sb.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				sb.WriteByte(',')
			}
			item.encode(sb)
		}
		sb.WriteByte(']')
	case KindMap:
		sb.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeString(sb, k)
			sb.WriteByte(':')
			v.m[k].encode(sb)
		}
		sb.WriteByte('}')
	}
}

func writeString(sb *strings.Builder, s string) {
	// json.Marshal on a string cannot fail.
	b, _ := json.Marshal(s)
	sb.Write(b)
}

// UnmarshalJSON decodes a JSON document into v. Numbers keep their literal
// text.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decodeValue(dec, 0)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("document: unexpected data after top-level value")
	}
	*v = out
	return nil
}

func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, errTooDeep
	}
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("document: %w", err)
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t)
	case json.Delim:
		switch t {
		case '{':
			fields := make(map[string]Value)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("document: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("document: unexpected object key %v", keyTok)
				}
				f, err := decodeValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				fields[key] = f
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("document: %w", err)
			}
			return Map(fields), nil
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("document: %w", err)
			}
			return List(items...), nil
		}
	}
	return Value{}, fmt.Errorf("document: unexpected token %v", tok)
}

// MarshalYAML encodes v as a YAML node tree with sorted map keys.
func (v Value) MarshalYAML() (any, error) {
	return v.yamlNode(), nil
}

func (v Value) yamlNode() *yaml.Node {
	switch v.kind {
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case KindNumber:
		tag := "!!float"
		if _, ok := v.AsInt(); ok {
			tag = "!!int"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: v.s}
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.s}
	case KindList:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.list {
			n.Content = append(n.Content, item.yamlNode())
		}
		return n
	case KindMap:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range v.Keys() {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				v.m[k].yamlNode())
		}
		return n
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

// UnmarshalYAML decodes a YAML node tree into v.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	out, err := fromYAML(node, 0)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func fromYAML(node *yaml.Node, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, errTooDeep
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null(), nil
		}
		return fromYAML(node.Content[0], depth)
	case yaml.AliasNode:
		return fromYAML(node.Alias, depth+1)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(node.Content))
		for _, c := range node.Content {
			item, err := fromYAML(c, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return List(items...), nil
	case yaml.MappingNode:
		fields := make(map[string]Value, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			f, err := fromYAML(node.Content[i+1], depth+1)
			if err != nil {
				return Value{}, err
			}
			fields[node.Content[i].Value] = f
		}
		return Map(fields), nil
	case yaml.ScalarNode:
		return yamlScalar(node)
	}
	return Value{}, fmt.Errorf("document: unsupported yaml node kind %d", node.Kind)
}

func yamlScalar(node *yaml.Node) (Value, error) {
	switch node.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "!!int":
		var n int64
		if err := node.Decode(&n); err != nil {
			return Value{}, err
		}
		return Int(n), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return Value{}, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("%w: %s", ErrInvalidNumber, node.Value)
		}
		if validNumber(node.Value) {
			return Value{kind: KindNumber, s: node.Value}, nil
		}
		return Float(f)
	default:
		return String(node.Value), nil
	}
}
