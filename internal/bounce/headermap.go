package bounce

// HeaderMap maps lower-cased header names to the values captured for them,
// remembering the order in which names were first seen
type HeaderMap struct {
	keys   []string
	values map[string][]string
}

func NewHeaderMap() *HeaderMap {
	return &HeaderMap{values: make(map[string][]string)}
}

// Add appends value to the list kept for name
func (h *HeaderMap) Add(name, value string) {
	if _, ok := h.values[name]; !ok {
		h.keys = append(h.keys, name)
	}
	h.values[name] = append(h.values[name], value)
}

// Keys returns header names in first-seen order
func (h *HeaderMap) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

func (h *HeaderMap) Values(name string) []string { return h.values[name] }

func (h *HeaderMap) Has(name string) bool {
	_, ok := h.values[name]
	return ok
}

func (h *HeaderMap) Len() int { return len(h.keys) }

// Map returns a plain copy, mostly useful for comparisons and encoding
func (h *HeaderMap) Map() map[string][]string {
	out := make(map[string][]string, len(h.keys))
	for _, k := range h.keys {
		out[k] = append([]string(nil), h.values[k]...)
	}
	return out
}
