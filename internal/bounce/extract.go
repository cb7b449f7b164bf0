package bounce

import "strings"

// Pair is a single header as found in a structured message
type Pair struct {
	Name  string
	Value string
}

// ExtractText unfolds text and captures the value of every line that starts
// with a registered header name. Names are lower-cased.
func ExtractText(reg *Registry, text string, emit func(Event)) *HeaderMap {
	notify := emitFunc(emit)
	headers := NewHeaderMap()
	for _, line := range Unfold(text) {
		notify.emit(Event{Type: EventLine, Line: line})

		parts := reg.lineExpr.FindStringSubmatch(line)
		if parts == nil {
			continue
		}
		name, value := strings.ToLower(parts[1]), parts[2]
		notify.emit(Event{Type: EventMatch, Header: name, Value: value})
		headers.Add(name, value)
	}
	return headers
}

// ExtractTree collects every header listed under a "headers" field anywhere
// in root. Nothing is filtered by registry membership here.
func ExtractTree(root Node, emit func(Event)) *HeaderMap {
	notify := emitFunc(emit)
	headers := NewHeaderMap()
	for _, p := range CollectHeaders(root) {
		name := strings.ToLower(p.Name)
		notify.emit(Event{Type: EventMatch, Header: name, Value: p.Value})
		headers.Add(name, p.Value)
	}
	return headers
}

// CollectHeaders walks root depth-first. A field named "headers" (any case)
// holding a sequence contributes its elements; any other composite value is
// descended into. Elements without a name are skipped.
func CollectHeaders(root Node) []Pair {
	var pairs []Pair
	var walk func(n Node)
	walk = func(n Node) {
		switch n.Kind {
		case KindMapping:
			for _, f := range n.Fields {
				if !f.Value.Composite() {
					continue
				}
				if strings.EqualFold(f.Key, "headers") && f.Value.Kind == KindSequence {
					pairs = append(pairs, headerPairs(f.Value.Items)...)
					continue
				}
				walk(f.Value)
			}
		case KindSequence:
			for _, item := range n.Items {
				if item.Composite() {
					walk(item)
				}
			}
		}
	}
	walk(root)
	return pairs
}

func headerPairs(items []Node) []Pair {
	pairs := make([]Pair, 0, len(items))
	for _, item := range items {
		if item.Kind != KindMapping {
			continue
		}
		name, ok := item.Lookup("name")
		if !ok || name.Kind != KindScalar {
			continue
		}
		var value string
		if v, ok := item.Lookup("value"); ok && v.Kind == KindScalar {
			value = v.Value
		}
		pairs = append(pairs, Pair{Name: name.Value, Value: value})
	}
	return pairs
}
