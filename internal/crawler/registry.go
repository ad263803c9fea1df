package crawler

import "sort"

// Registry holds the known source crawlers keyed by chain name.
type Registry struct {
	crawlers map[string]Crawler
	order    []string
}

// NewRegistry creates a registry over the given crawlers.
func NewRegistry(crawlers ...Crawler) *Registry {
	r := &Registry{crawlers: make(map[string]Crawler, len(crawlers))}
	for _, c := range crawlers {
		r.Register(c)
	}
	return r
}

// Register adds a crawler; a crawler registered twice for the same chain
// replaces the earlier one.
func (r *Registry) Register(c Crawler) {
	if _, exists := r.crawlers[c.Chain()]; !exists {
		r.order = append(r.order, c.Chain())
	}
	r.crawlers[c.Chain()] = c
}

// Get returns the crawler for chain, or nil if unknown.
func (r *Registry) Get(chain string) Crawler {
	return r.crawlers[chain]
}

// All returns every registered crawler in registration order.
func (r *Registry) All() []Crawler {
	out := make([]Crawler, 0, len(r.order))
	for _, chain := range r.order {
		out = append(out, r.crawlers[chain])
	}
	return out
}

// Chains returns the registered chain names, sorted.
func (r *Registry) Chains() []string {
	out := make([]string, 0, len(r.crawlers))
	for chain := range r.crawlers {
		out = append(out, chain)
	}
	sort.Strings(out)
	return out
}
