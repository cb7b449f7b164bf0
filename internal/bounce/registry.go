package bounce

import (
	"fmt"
	"regexp"
	"strings"
)

// HeaderPattern pairs a lower-cased header name with the expression that
// recognizes a bounce signature in that header's value
type HeaderPattern struct {
	Name    string
	Pattern *regexp.Regexp
}

// Registry is the fixed set of headers that count towards a bounce score.
// It is never mutated after construction and may be shared between goroutines.
type Registry struct {
	keys     []string
	patterns map[string]*regexp.Regexp
	lineExpr *regexp.Regexp // ^(name1|name2|...):(.*)
}

// Delivery status notification headers and their bounce signatures
var defaultPatterns = []HeaderPattern{
	{"final-recipient", regexp.MustCompile(`(?i)(.+);\s*(.*)`)},
	{"x-failed-recipients", regexp.MustCompile(`(?i)(.+)`)},
	{"remote-mta", regexp.MustCompile(`(?i)(.+);\s*(.*)`)},
	{"reporting-mta", regexp.MustCompile(`(?i)(.+);\s*(.*)`)},
	{"action", regexp.MustCompile(`(?i)(failed|delayed|delivered|relayed|expanded)`)},
	{"content-description", regexp.MustCompile(`(?i)(notification|undelivered message|delivery report)`)},
	{"diagnostic-code", regexp.MustCompile(`(?i)(.+);\s*([\d\-\.]+)?\s*(.*)`)},
	{"status", regexp.MustCompile(`(?i)((\d{1}).(\d+).(\d+))`)},
	{"from", regexp.MustCompile(`(?i)(Mail Delivery Subsystem).*`)},
	{"received", regexp.MustCompile(`(?i)(.+)`)},
	{"authentication-results", regexp.MustCompile(`(?i)(spf=fail).*`)},
	{"received-spf", regexp.MustCompile(`(?i)(fail).*`)},
	{"content-type", regexp.MustCompile(`(?i)(.*);\s*(.*)delivery-status;`)},
	{"subject", regexp.MustCompile(`(?i)(delivery status notification|undeliverable|mail delivery failed)\s(.*)`)},
}

var defaultRegistry = NewRegistry(defaultPatterns)

// DefaultRegistry returns the built-in registry of fourteen DSN headers
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewRegistry builds a registry from the given entries. Names are lower-cased;
// a repeated name keeps its first position and its last pattern.
func NewRegistry(entries []HeaderPattern) *Registry {
	r := &Registry{patterns: make(map[string]*regexp.Regexp, len(entries))}
	for _, e := range entries {
		name := strings.ToLower(e.Name)
		if _, exists := r.patterns[name]; !exists {
			r.keys = append(r.keys, name)
		}
		r.patterns[name] = e.Pattern
	}

	quoted := make([]string, len(r.keys))
	for i, k := range r.keys {
		quoted[i] = regexp.QuoteMeta(k)
	}
	r.lineExpr = regexp.MustCompile(`(?i)^(` + strings.Join(quoted, "|") + `):(.*)`)
	return r
}

// Keys returns the registered header names in registration order
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len is the number of registered headers, which is also the score denominator
func (r *Registry) Len() int { return len(r.keys) }

// HasKey reports whether name is registered. The lookup is case-insensitive.
func (r *Registry) HasKey(name string) bool {
	_, ok := r.patterns[strings.ToLower(name)]
	return ok
}

// Get returns the pattern for name, or an error wrapping ErrNotFound
func (r *Registry) Get(name string) (*regexp.Regexp, error) {
	p, ok := r.patterns[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("header %q: %w", name, ErrNotFound)
	}
	return p, nil
}

// Entries lists every registered header with its pattern, in key order
func (r *Registry) Entries() []HeaderPattern {
	out := make([]HeaderPattern, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, HeaderPattern{Name: k, Pattern: r.patterns[k]})
	}
	return out
}

// Restrict returns the subset of h whose headers are registered, keeping order
func (r *Registry) Restrict(h *HeaderMap) *HeaderMap {
	out := NewHeaderMap()
	for _, name := range h.Keys() {
		if r.HasKey(name) {
			for _, v := range h.Values(name) {
				out.Add(name, v)
			}
		}
	}
	return out
}
