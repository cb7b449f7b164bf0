package bounce

import "encoding/json"

// Match is one header value that matched its bounce pattern. Groups[0] is
// the matched text, followed by the capture groups.
type Match struct {
	Value  string   `json:"value"`
	Groups []string `json:"groups"`
}

// MatchMap maps header names to their matched values, in first-seen order
type MatchMap struct {
	keys    []string
	matches map[string][]Match
}

func NewMatchMap() *MatchMap {
	return &MatchMap{matches: make(map[string][]Match)}
}

func (m *MatchMap) set(name string, matches []Match) {
	if _, ok := m.matches[name]; !ok {
		m.keys = append(m.keys, name)
	}
	m.matches[name] = matches
}

func (m *MatchMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *MatchMap) Get(name string) []Match { return m.matches[name] }

func (m *MatchMap) Has(name string) bool {
	_, ok := m.matches[name]
	return ok
}

func (m *MatchMap) Len() int { return len(m.keys) }

func (m *MatchMap) Map() map[string][]Match {
	out := make(map[string][]Match, len(m.keys))
	for _, k := range m.keys {
		out[k] = append([]Match(nil), m.matches[k]...)
	}
	return out
}

func (m *MatchMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

// MatchHeaders applies each registered header's pattern to every value
// captured for it. Headers with no matching value are left out. Unregistered
// headers are ignored.
func MatchHeaders(reg *Registry, headers *HeaderMap, emit func(Event)) *MatchMap {
	notify := emitFunc(emit)
	out := NewMatchMap()
	for _, name := range headers.Keys() {
		pattern, ok := reg.patterns[name]
		if !ok {
			continue
		}

		var matched []Match
		for _, v := range headers.Values(name) {
			if groups := pattern.FindStringSubmatch(v); groups != nil {
				matched = append(matched, Match{Value: v, Groups: groups})
			}
		}
		if len(matched) == 0 {
			continue
		}

		notify.emit(Event{Type: EventDetect, Header: name, Matches: matched})
		out.set(name, matched)
	}
	return out
}
