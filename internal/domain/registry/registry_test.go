package registry

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/mcpgateway/gateway/internal/domain/tool"
)

func entries(names ...string) []tool.Entry {
	out := make([]tool.Entry, 0, len(names))
	for _, n := range names {
		out = append(out, tool.Entry{OriginalName: n, Description: "desc " + n})
	}
	return out
}

func TestColdBrowse(t *testing.T) {
	r := New()
	r.PopulateDomain("apollo", "https://apollo.example", "", nil, entries("people_search", "org_search"))
	r.PopulateDomain("hubspot", "https://hubspot.example", "", nil, entries("contacts_search"))

	domains := r.ListDomains()
	if len(domains) != 2 {
		t.Fatalf("expected 2 domains, got %d", len(domains))
	}
	if r.TotalTools() != 3 {
		t.Fatalf("expected 3 total tools, got %d", r.TotalTools())
	}
}

func TestCollisionRenamesBothSides(t *testing.T) {
	r := New()
	r.PopulateDomain("apollo", "u1", "", nil, entries("search"))
	diff := r.PopulateDomain("hubspot", "u2", "", nil, entries("search"))

	if len(diff.Added) != 1 || diff.Added[0] != "hubspot_search" {
		t.Fatalf("expected hubspot_search added, got %v", diff.Added)
	}

	if _, ok := r.Get("search"); ok {
		t.Fatalf("bare name %q must not be resolvable after collision", "search")
	}
	apolloEntry, ok := r.Get("apollo_search")
	if !ok || apolloEntry.OriginalName != "search" {
		t.Fatalf("expected apollo_search present with original_name=search, got %+v ok=%v", apolloEntry, ok)
	}
	hubspotEntry, ok := r.Get("hubspot_search")
	if !ok || hubspotEntry.OriginalName != "search" {
		t.Fatalf("expected hubspot_search present with original_name=search, got %+v ok=%v", hubspotEntry, ok)
	}
}

func TestSecondaryCollisionRejected(t *testing.T) {
	r := New()
	r.PopulateDomain("apollo", "u1", "", nil, entries("search"))
	r.PopulateDomain("hubspot", "u2", "", nil, entries("search"))
	// A third domain literally named "apollo_search" colliding on the
	// already-prefixed winner's name is a secondary collision: rejected.
	diff := r.PopulateDomain("apollo_search", "u3", "", nil, entries("search"))
	if len(diff.Added) != 0 {
		t.Fatalf("secondary collision should add nothing, got %v", diff.Added)
	}
	if _, ok := r.Get("apollo_search"); !ok {
		t.Fatalf("existing winner must be preserved")
	}
}

func TestRepopulateSameDomainNotACollision(t *testing.T) {
	r := New()
	r.PopulateDomain("apollo", "u1", "", nil, entries("search"))
	diff := r.PopulateDomain("apollo", "u1", "", nil, entries("search"))
	if !diff.Empty() {
		t.Fatalf("identical repopulate should yield empty diff, got %+v", diff)
	}
	if _, ok := r.Get("search"); !ok {
		t.Fatalf("re-populating the same domain must not force a rename")
	}
}

func TestDiffAddedRemoved(t *testing.T) {
	r := New()
	r.PopulateDomain("apollo", "u1", "", nil, entries("a", "b"))
	diff := r.PopulateDomain("apollo", "u1", "", nil, entries("b", "c"))
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	if fmt.Sprint(diff.Added) != "[c]" || fmt.Sprint(diff.Removed) != "[a]" {
		t.Fatalf("unexpected diff: %+v", diff)
	}
}

func TestFuzzyResolve(t *testing.T) {
	r := New()
	r.PopulateDomain("apollo", "u1", "", nil, entries("apollo_people_search"))

	_, resolved, suggestions := r.FuzzyResolve("apollo_peple_search")
	if !resolved {
		t.Fatalf("expected a near-miss typo to resolve, suggestions=%v", suggestions)
	}

	_, resolved, suggestions = r.FuzzyResolve("completely_unrelated_xyz")
	if resolved {
		t.Fatalf("unrelated query should not resolve")
	}
	_ = suggestions
}

func TestFuzzySuggestionsOnCollisionMiss(t *testing.T) {
	r := New()
	r.PopulateDomain("apollo", "u1", "", nil, entries("search"))
	r.PopulateDomain("hubspot", "u2", "", nil, entries("search"))

	_, resolved, suggestions := r.FuzzyResolve("search")
	if resolved {
		t.Fatalf("bare 'search' must not resolve after rename")
	}
	if len(suggestions) == 0 {
		t.Fatalf("expected suggestions for ambiguous bare name")
	}
}

func TestEmptyRegistryDiscover(t *testing.T) {
	r := New()
	if domains := r.ListDomains(); len(domains) != 0 {
		t.Fatalf("expected no domains, got %v", domains)
	}
	if r.TotalTools() != 0 {
		t.Fatalf("expected zero tools")
	}
}

func TestRemoveDomain(t *testing.T) {
	r := New()
	r.PopulateDomain("apollo", "u1", "", nil, entries("a"))
	r.RemoveDomain("apollo")
	if r.HasDomain("apollo") {
		t.Fatalf("domain should be gone")
	}
	if _, ok := r.Get("a"); ok {
		t.Fatalf("tool should be gone")
	}
}

func TestConcurrentPopulateAndRead(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			domain := fmt.Sprintf("domain%d", i%4)
			r.PopulateDomain(domain, "u", "", nil, entries(fmt.Sprintf("tool%d", i)))
		}(i)
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.ListDomains()
			_ = r.Search("tool")
		}()
	}
	wg.Wait()
}
