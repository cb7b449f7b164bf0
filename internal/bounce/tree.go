package bounce

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind tags the variant held by a Node
type Kind int

const (
	KindScalar Kind = iota
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Node is a structured message: a scalar, a sequence of nodes, or an
// ordered list of keyed fields
type Node struct {
	Kind   Kind
	Value  string  // KindScalar
	Items  []Node  // KindSequence
	Fields []Field // KindMapping
}

// Field is one key of a mapping node
type Field struct {
	Key   string
	Value Node
}

func Scalar(v string) Node { return Node{Kind: KindScalar, Value: v} }

func Sequence(items ...Node) Node { return Node{Kind: KindSequence, Items: items} }

func Mapping(fields ...Field) Node { return Node{Kind: KindMapping, Fields: fields} }

// Composite reports whether the node can hold other nodes
func (n Node) Composite() bool { return n.Kind == KindSequence || n.Kind == KindMapping }

// Lookup returns the first field whose key equals key, ignoring case
func (n Node) Lookup(key string) (Node, bool) {
	for _, f := range n.Fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value, true
		}
	}
	return Node{}, false
}

// HeaderList builds the {headers: [{name, value}, ...]} shape understood by
// structured detection
func HeaderList(pairs ...Pair) Node {
	items := make([]Node, len(pairs))
	for i, p := range pairs {
		items[i] = Mapping(
			Field{Key: "name", Value: Scalar(p.Name)},
			Field{Key: "value", Value: Scalar(p.Value)},
		)
	}
	return Mapping(Field{Key: "headers", Value: Sequence(items...)})
}

// FromValue converts decoded Go values (maps with string keys, slices,
// scalars) into a Node. Map keys are sorted since Go maps carry no order.
func FromValue(v any) (Node, error) {
	switch t := v.(type) {
	case Node:
		return t, nil
	case *Node:
		if t == nil {
			return Node{}, fmt.Errorf("nil node: %w", ErrInvalidInput)
		}
		return *t, nil
	case string:
		return Scalar(t), nil
	case nil:
		return Scalar(""), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Node{}, fmt.Errorf("map key type %s: %w", rv.Type().Key(), ErrInvalidInput)
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		n := Node{Kind: KindMapping}
		for _, k := range keys {
			child, err := FromValue(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return Node{}, fmt.Errorf("field %q: %w", k, err)
			}
			n.Fields = append(n.Fields, Field{Key: k, Value: child})
		}
		return n, nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Scalar(fmt.Sprintf("%s", v)), nil
		}
		n := Node{Kind: KindSequence, Items: make([]Node, 0, rv.Len())}
		for i := 0; i < rv.Len(); i++ {
			child, err := FromValue(rv.Index(i).Interface())
			if err != nil {
				return Node{}, fmt.Errorf("item %d: %w", i, err)
			}
			n.Items = append(n.Items, child)
		}
		return n, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Scalar(""), nil
		}
		return FromValue(rv.Elem().Interface())
	default:
		return Scalar(fmt.Sprint(v)), nil
	}
}

// DecodeTree parses a JSON or YAML document into a Node, keeping mapping
// keys in document order
func DecodeTree(data []byte) (Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Node{}, fmt.Errorf("failed to decode structured message: %w", err)
	}
	if doc.Kind == 0 {
		return Mapping(), nil
	}
	return fromYAML(&doc, 0)
}

const maxYAMLDepth = 512

func fromYAML(y *yaml.Node, depth int) (Node, error) {
	if depth > maxYAMLDepth {
		return Node{}, fmt.Errorf("structured message nested deeper than %d levels", maxYAMLDepth)
	}
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return Mapping(), nil
		}
		return fromYAML(y.Content[0], depth+1)
	case yaml.AliasNode:
		return fromYAML(y.Alias, depth+1)
	case yaml.SequenceNode:
		n := Node{Kind: KindSequence, Items: make([]Node, 0, len(y.Content))}
		for _, c := range y.Content {
			child, err := fromYAML(c, depth+1)
			if err != nil {
				return Node{}, err
			}
			n.Items = append(n.Items, child)
		}
		return n, nil
	case yaml.MappingNode:
		n := Node{Kind: KindMapping, Fields: make([]Field, 0, len(y.Content)/2)}
		for i := 0; i+1 < len(y.Content); i += 2 {
			child, err := fromYAML(y.Content[i+1], depth+1)
			if err != nil {
				return Node{}, err
			}
			n.Fields = append(n.Fields, Field{Key: y.Content[i].Value, Value: child})
		}
		return n, nil
	default:
		return Scalar(y.Value), nil
	}
}
