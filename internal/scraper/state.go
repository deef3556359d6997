package scraper

// crawlState is owned by a single running crawl and discarded at its end
type crawlState struct {
	discovered   []string
	seen         map[string]struct{}
	existing     map[string]struct{}
	overlap      bool
	shortCircuit bool
}

func newCrawlState(existing []string) *crawlState {
	st := &crawlState{
		seen:     make(map[string]struct{}),
		existing: make(map[string]struct{}, len(existing)),
	}
	for _, id := range existing {
		st.existing[id] = struct{}{}
	}
	return st
}

// merge appends unseen ids in order and returns how many were new
func (st *crawlState) merge(ids []string) int {
	added := 0
	for _, id := range ids {
		if _, ok := st.seen[id]; ok {
			continue
		}
		st.seen[id] = struct{}{}
		st.discovered = append(st.discovered, id)
		if _, ok := st.existing[id]; ok {
			st.overlap = true
		}
		added++
	}
	return added
}

func (st *crawlState) len() int {
	return len(st.discovered)
}

// pending returns the ids to process, dropping already stored ones when the
// pagination was cut short
func (st *crawlState) pending() []string {
	if !st.shortCircuit {
		return st.discovered
	}
	out := make([]string, 0, len(st.discovered))
	for _, id := range st.discovered {
		if _, ok := st.existing[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
