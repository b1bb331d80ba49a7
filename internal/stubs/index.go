package stubs

import "strings"

// indexSet holds the secondary lookup structures over the authoritative map.
// The pending overlay is resolved at read time and never indexed.
type indexSet struct {
	byMethod   map[string]map[string]struct{}
	byURL      map[string]map[string]struct{}
	byPriority map[int]map[string]struct{}
	byScenario map[string]map[string]struct{}
}

func newIndexSet() *indexSet {
	return &indexSet{
		byMethod:   map[string]map[string]struct{}{},
		byURL:      map[string]map[string]struct{}{},
		byPriority: map[int]map[string]struct{}{},
		byScenario: map[string]map[string]struct{}{},
	}
}

func (ix *indexSet) rebuild(items map[string]Mapping) {
	ix.byMethod = map[string]map[string]struct{}{}
	ix.byURL = map[string]map[string]struct{}{}
	ix.byPriority = map[int]map[string]struct{}{}
	ix.byScenario = map[string]map[string]struct{}{}
	for _, m := range items {
		ix.add(m)
	}
}

func (ix *indexSet) add(m Mapping) {
	if method := normalizeMethod(m.Request.Method); method != "" {
		addToIndex(ix.byMethod, method, m.ID)
	}
	if m.Request.URL != "" {
		addToIndex(ix.byURL, m.Request.URL, m.ID)
	}
	addToIntIndex(ix.byPriority, m.EffectivePriority(), m.ID)
	if m.ScenarioName != "" {
		addToIndex(ix.byScenario, m.ScenarioName, m.ID)
	}
}

func (ix *indexSet) remove(m Mapping) {
	if method := normalizeMethod(m.Request.Method); method != "" {
		removeFromIndex(ix.byMethod, method, m.ID)
	}
	if m.Request.URL != "" {
		removeFromIndex(ix.byURL, m.Request.URL, m.ID)
	}
	removeFromIntIndex(ix.byPriority, m.EffectivePriority(), m.ID)
	if m.ScenarioName != "" {
		removeFromIndex(ix.byScenario, m.ScenarioName, m.ID)
	}
}

func (ix *indexSet) replace(old, next Mapping) {
	ix.remove(old)
	ix.add(next)
}

func normalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}

func addToIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		set = map[string]struct{}{}
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFromIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

func addToIntIndex(index map[int]map[string]struct{}, key int, id string) {
	set, ok := index[key]
	if !ok {
		set = map[string]struct{}{}
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFromIntIndex(index map[int]map[string]struct{}, key int, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := map[string]struct{}{}
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}
