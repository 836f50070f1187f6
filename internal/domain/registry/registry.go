// Package registry implements the in-memory tool registry: the
// (domain -> tools) index plus its reverse flat (name -> entry) index,
// collision resolution, fuzzy lookup, search, and diffing.
//
// Grounded on the per-upstream dual-index tool cache pattern (name index +
// upstream index, RWMutex-protected, bounded per-upstream and globally),
// adapted from skip-on-collision to the rename-on-first-collision policy
// this gateway requires.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/mcpgateway/gateway/internal/domain/tool"
)

const (
	// MaxToolsPerDomain bounds how many tools a single upstream can register,
	// preventing a misbehaving or malicious upstream from exhausting memory.
	MaxToolsPerDomain = 1000
	// MaxTotalTools bounds the flat index across all domains.
	MaxTotalTools = 10000
	// maxSuggestions is the cap on fuzzy_resolve's suggestion list.
	maxSuggestions = 5
	// fuzzyThreshold is the minimum normalized similarity score (1 - distance/maxlen)
	// a candidate must reach before get_tool_schema treats it as resolvable.
	fuzzyThreshold = 0.5
	// suggestionFloor is the minimum score to even appear in suggestions.
	suggestionFloor = 0.3
)

// DomainInfo describes one configured upstream as seen by discover_tools and
// the registration API. ToolCount and Groups are derived from the current
// flat index, never stored independently.
type DomainInfo struct {
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Description   string            `json:"description,omitempty"`
	ToolCount     int               `json:"tool_count"`
	Groups        []string          `json:"groups"`
	StaticHeaders map[string]string `json:"-"`
}

// Diff is returned by every population of a single domain.
type Diff struct {
	Domain    string   `json:"domain"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	ToolCount int      `json:"tool_count"`
}

// Empty reports whether this diff represents no change.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// domainSnapshot is an immutable per-domain view, replaced wholesale on
// every populate so concurrent readers never observe a torn mix of old and
// new entries for the same domain.
type domainSnapshot struct {
	description   string
	url           string
	staticHeaders map[string]string
	tools         map[string]*tool.Entry // keyed by exposed name
}

// Registry is the concurrency-safe tool registry described in component A.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*domainSnapshot
	flat    map[string]*tool.Entry // exposed name -> entry, union of all domains
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		domains: make(map[string]*domainSnapshot),
		flat:    make(map[string]*tool.Entry),
	}
}

// PopulateDomain atomically replaces all tools for domain and resolves name
// collisions against every other currently registered domain. Re-populating
// the same domain is never treated as a collision with itself.
func (r *Registry) PopulateDomain(domain, url, description string, staticHeaders map[string]string, tools []tool.Entry) Diff {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(tools) > MaxToolsPerDomain {
		tools = tools[:MaxToolsPerDomain]
	}

	prev := r.domains[domain]
	prevNames := make(map[string]struct{})
	if prev != nil {
		for name := range prev.tools {
			prevNames[name] = struct{}{}
		}
		for name := range prev.tools {
			delete(r.flat, name)
		}
	}

	next := &domainSnapshot{
		description:   description,
		url:           url,
		staticHeaders: staticHeaders,
		tools:         make(map[string]*tool.Entry, len(tools)),
	}

	var added, removed []string
	for _, e := range tools {
		entry := e
		entry.Domain = domain
		if entry.OriginalName == "" {
			entry.OriginalName = entry.Name
		}

		name := entry.OriginalName
		var peers []*tool.Entry // other domains' entries already prefixed for name
		for _, other := range r.flat {
			if other.Domain != domain && other.OriginalName == name && other.Renamed() {
				peers = append(peers, other)
			}
		}
		if len(peers) > 1 {
			continue // a further domain on a name already split two ways: rejected
		}
		existing, ok := r.flat[name]
		if !ok && len(peers) == 1 {
			existing, ok = peers[0], true
		}
		if ok && existing.Domain != domain {
			// First collision: rename both the new entry and (if not already
			// renamed) the existing one to "{domain}_{original_name}".
			renamed := fmt.Sprintf("%s_%s", domain, name)
			if _, taken := r.flat[renamed]; taken {
				// Secondary collision on the already-prefixed name: reject
				// this entry, keep the existing winner untouched.
				continue
			}
			entry.Name = renamed

			if existing.Name == existing.OriginalName {
				r.renameExisting(existing)
			}
		} else {
			entry.Name = name
		}

		if len(r.flat) >= MaxTotalTools {
			if _, already := r.flat[entry.Name]; !already {
				continue
			}
		}

		next.tools[entry.Name] = &entry
		r.flat[entry.Name] = &entry

		if _, existed := prevNames[entry.Name]; !existed {
			added = append(added, entry.Name)
		} else {
			delete(prevNames, entry.Name)
		}
	}

	for name := range prevNames {
		removed = append(removed, name)
	}

	sort.Strings(added)
	sort.Strings(removed)

	r.domains[domain] = next

	return Diff{
		Domain:    domain,
		Added:     added,
		Removed:   removed,
		ToolCount: len(next.tools),
	}
}

// renameExisting re-keys an entry belonging to a different domain to
// "{domain}_{original_name}" in both the flat index and its owning domain
// snapshot, in response to a newly discovered collision.
func (r *Registry) renameExisting(existing *tool.Entry) {
	owner, ok := r.domains[existing.Domain]
	if !ok {
		return
	}
	delete(r.flat, existing.Name)
	delete(owner.tools, existing.Name)

	renamed := fmt.Sprintf("%s_%s", existing.Domain, existing.OriginalName)
	updated := *existing
	updated.Name = renamed

	owner.tools[renamed] = &updated
	r.flat[renamed] = &updated
}

// Get performs an exact lookup from the flat index.
func (r *Registry) Get(name string) (tool.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.flat[name]
	if !ok {
		return tool.Entry{}, false
	}
	return *e, true
}

// FuzzyResolve returns the best-matching entry for name (if its score meets
// fuzzyThreshold) and up to maxSuggestions ranked candidate names scoring at
// or above suggestionFloor. Score is 1 - (levenshtein distance / max(len)),
// so closer names score nearer 1. Ties are broken by shorter name, then
// lexicographically.
func (r *Registry) FuzzyResolve(name string) (entry tool.Entry, resolved bool, suggestions []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		name  string
		score float64
	}
	var candidates []scored
	for candidate := range r.flat {
		score := similarity(name, candidate)
		if score >= suggestionFloor {
			candidates = append(candidates, scored{candidate, score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if len(candidates[i].name) != len(candidates[j].name) {
			return len(candidates[i].name) < len(candidates[j].name)
		}
		return candidates[i].name < candidates[j].name
	})

	for i, c := range candidates {
		if i >= maxSuggestions {
			break
		}
		suggestions = append(suggestions, c.name)
	}

	if len(candidates) > 0 && candidates[0].score >= fuzzyThreshold {
		entry = *r.flat[candidates[0].name]
		resolved = true
	}
	return entry, resolved, suggestions
}

func similarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// SearchResult is one row of a cross-domain search.
type SearchResult struct {
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Group       string `json:"group,omitempty"`
	Description string `json:"description"`
}

// Search performs a case-insensitive substring match against name and
// description, returning results ordered by (domain, name).
func (r *Registry) Search(query string) []SearchResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	var results []SearchResult
	for _, e := range r.flat {
		if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.Description), q) {
			results = append(results, SearchResult{
				Name:        e.Name,
				Domain:      e.Domain,
				Group:       e.Group,
				Description: e.Description,
			})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Domain != results[j].Domain {
			return results[i].Domain < results[j].Domain
		}
		return results[i].Name < results[j].Name
	})
	return results
}

// ListDomains returns a snapshot of every registered domain with derived
// tool counts and group sets.
func (r *Registry) ListDomains() []DomainInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]DomainInfo, 0, len(names))
	for _, name := range names {
		snap := r.domains[name]
		groupSet := make(map[string]struct{})
		for _, e := range snap.tools {
			if e.Group != "" {
				groupSet[e.Group] = struct{}{}
			}
		}
		groups := make([]string, 0, len(groupSet))
		for g := range groupSet {
			groups = append(groups, g)
		}
		sort.Strings(groups)

		infos = append(infos, DomainInfo{
			Name:          name,
			URL:           snap.url,
			Description:   snap.description,
			ToolCount:     len(snap.tools),
			Groups:        groups,
			StaticHeaders: snap.staticHeaders,
		})
	}
	return infos
}

// ListDomainTools returns every entry belonging to domain, ordered by name.
// ok is false if the domain has never been populated.
func (r *Registry) ListDomainTools(domain string) (entries []tool.Entry, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, exists := r.domains[domain]
	if !exists {
		return nil, false
	}
	entries = make([]tool.Entry, 0, len(snap.tools))
	for _, e := range snap.tools {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, true
}

// GetDomainDescription returns the stored description for domain, or false
// if the domain is unknown.
func (r *Registry) GetDomainDescription(domain string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.domains[domain]
	if !ok {
		return "", false
	}
	return snap.description, true
}

// DomainStaticHeaders returns the static headers configured for domain.
func (r *Registry) DomainStaticHeaders(domain string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.domains[domain]
	if !ok {
		return nil
	}
	return snap.staticHeaders
}

// RemoveDomain drops every entry belonging to domain from both indices.
func (r *Registry) RemoveDomain(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, ok := r.domains[domain]
	if !ok {
		return
	}
	for name := range snap.tools {
		delete(r.flat, name)
	}
	delete(r.domains, domain)
}

// TotalTools returns the size of the flat index.
func (r *Registry) TotalTools() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flat)
}

// HasDomain reports whether domain has ever been populated.
func (r *Registry) HasDomain(domain string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.domains[domain]
	return ok
}
