package router

import (
	"sort"
	"strings"
	"sync"
)

// TopicRoutes maps topic patterns to target modules. Patterns are dot
// separated; "*" matches one segment and "#" matches zero or more, so
// "order.#" covers every order transition and "invoice.overdue" only one.
type TopicRoutes struct {
	mu     sync.RWMutex
	routes map[string][]Module
	sorted []string
	match  func(pattern, topic string) bool
}

// Route is a registered pattern that can be removed again.
type Route struct {
	owner   *TopicRoutes
	pattern string
	modules []Module
}

func NewTopicRoutes() *TopicRoutes {
	return &TopicRoutes{
		routes: make(map[string][]Module),
		match:  MakeRouteMatcher("."),
	}
}

// Add routes pattern to modules. Adding the same module twice is a no-op.
func (t *TopicRoutes) Add(pattern string, modules ...Module) *Route {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing := t.routes[pattern]
	for _, m := range modules {
		if !m.Valid() || containsModule(existing, m) {
			continue
		}
		existing = append(existing, m)
	}
	t.routes[pattern] = existing
	t.resort()

	return &Route{owner: t, pattern: pattern, modules: append([]Module(nil), modules...)}
}

// Remove drops this route's modules from its pattern.
func (r *Route) Remove() {
	t := r.owner
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.routes[r.pattern]
	kept := make([]Module, 0, len(old))
	for _, m := range old {
		if !containsModule(r.modules, m) {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		delete(t.routes, r.pattern)
	} else {
		t.routes[r.pattern] = kept
	}
	t.resort()
}

// Match returns the union of modules whose patterns match topic, in
// catalogue order.
func (t *TopicRoutes) Match(topic string) []Module {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hit := make(map[Module]struct{})
	for _, pattern := range t.sorted {
		if !t.match(pattern, topic) {
			continue
		}
		for _, m := range t.routes[pattern] {
			hit[m] = struct{}{}
		}
	}
	var out []Module
	for _, m := range Modules() {
		if _, ok := hit[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Patterns lists the registered patterns, sorted.
func (t *TopicRoutes) Patterns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.sorted...)
}

func (t *TopicRoutes) resort() {
	keys := make([]string, 0, len(t.routes))
	for k := range t.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t.sorted = keys
}

func containsModule(list []Module, m Module) bool {
	for _, x := range list {
		if x == m {
			return true
		}
	}
	return false
}

// MakeRouteMatcher returns an AMQP style matcher over separator-split
// segments: "*" (or "+") matches exactly one segment, "#" zero or more.
func MakeRouteMatcher(separator string) func(pattern, topic string) bool {
	if separator == "" {
		separator = "."
	}
	return func(pattern, topic string) bool {
		if pattern == topic {
			return true
		}
		return matchSegments(strings.Split(pattern, separator), strings.Split(topic, separator))
	}
}

func matchSegments(patternParts, topicParts []string) bool {
	pLen, tLen := len(patternParts), len(topicParts)

	dp := make([]bool, tLen+1)
	prev := make([]bool, tLen+1)
	prev[0] = true

	for i := 1; i <= pLen; i++ {
		pPart := patternParts[i-1]
		// only a run of "#" can match an empty topic prefix
		dp[0] = pPart == "#" && prev[0]

		for j := 1; j <= tLen; j++ {
			switch pPart {
			case "#":
				dp[j] = prev[j] || dp[j-1]
			case "*", "+":
				dp[j] = prev[j-1]
			default:
				dp[j] = prev[j-1] && pPart == topicParts[j-1]
			}
		}
		copy(prev, dp)
	}
	return prev[tLen]
}
