package trident

import "sync"

// Pool is the shared pair of upstream lists: Active (eligible for
// selection) and Poverty (quarantined). A descriptor belongs to exactly
// one list at a time, identified by URL across the boundary. Readers may
// be many and concurrent; writers are exclusive. Lock scope must stay
// minimal — network I/O is never performed while a lease is held.
type Pool struct {
	mu      sync.RWMutex
	active  []*Upstream
	poverty []*Upstream
}

// NewPool builds a Pool from an initial active/poverty split, typically
// produced by bootstrap (see StartupSort).
func NewPool(active, poverty []*Upstream) *Pool {
	return &Pool{active: active, poverty: poverty}
}

// WithActiveWrite runs fn with a write lease on the active list. fn may
// mutate the slice header via the returned pointer's indirection (it is
// passed a pointer to the Pool's internal slice) but must not retain the
// slice beyond fn's lifetime, and must not perform network I/O.
func (p *Pool) WithActiveWrite(fn func(active *[]*Upstream)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.active)
}

// WithActiveRead runs fn with a read lease on the active list.
func (p *Pool) WithActiveRead(fn func(active []*Upstream)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(p.active)
}

// WithPovertyRead runs fn with a read lease on the poverty list.
func (p *Pool) WithPovertyRead(fn func(poverty []*Upstream)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(p.poverty)
}

// WithBothWrite runs fn with a write lease on both lists at once. A
// single mutex guards both lists, so one acquisition covers them and
// there is no lock order to get wrong. The health sweep is its only
// caller in this package.
func (p *Pool) WithBothWrite(fn func(active, poverty *[]*Upstream)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.active, &p.poverty)
}

// ActiveLen returns the current size of the active list.
func (p *Pool) ActiveLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

// PovertyLen returns the current size of the poverty list.
func (p *Pool) PovertyLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.poverty)
}

// snapshotClones returns value-independent clones of every descriptor in
// list, safe to probe or inspect without holding any lease.
func snapshotClones(list []*Upstream) []*Upstream {
	out := make([]*Upstream, len(list))
	for i, u := range list {
		out[i] = u.Clone()
	}
	return out
}

// removeByURL removes the first entry matching url from *list, reporting
// whether anything was removed.
func removeByURL(list *[]*Upstream, url string) (*Upstream, bool) {
	for i, u := range *list {
		if u.URL == url {
			removed := (*list)[i]
			*list = append((*list)[:i], (*list)[i+1:]...)
			return removed, true
		}
	}
	return nil, false
}
