package search

import (
	"context"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"go.corestream.dev/corestream/pkg/corerr"
)

// filterCapacity bounds each per-(org,stream,hour) cuckoo filter's
// backing table size; actual inserted term counts are expected to be
// far smaller, since this only prunes files, never answers queries.
const filterCapacity = 1 << 16

// FilterStore answers CuckooFilterQuery probes: "does the filter for
// (org, stream, hour) contain term?" (spec.md §6). One filter is built
// per ingested file's indexed columns at C4 build time and merged into
// the hour's bucket; this store only exposes the read side the
// coordinator consumes.
type FilterStore interface {
	Probe(ctx context.Context, org, stream, hour string, terms [][]byte) (found bool, err error)
	// Has reports whether any filter at all has been recorded for
	// (org, stream, hour), independent of term content — the coarse
	// presence check the CuckooFilterQuery RPC performs when the
	// caller supplies no specific terms to probe.
	Has(ctx context.Context, org, stream, hour string) (bool, error)
	Insert(ctx context.Context, org, stream, hour string, terms [][]byte) error
}

// MemFilterStore is an in-process FilterStore keyed by (org, stream,
// hour), each backed by its own cuckoofilter.Filter.
type MemFilterStore struct {
	mu      sync.RWMutex
	filters map[string]*cuckoo.Filter
}

// NewMemFilterStore returns an empty store.
func NewMemFilterStore() *MemFilterStore {
	return &MemFilterStore{filters: map[string]*cuckoo.Filter{}}
}

func filterKey(org, stream, hour string) string { return org + "\x00" + stream + "\x00" + hour }

// Insert adds terms to the (org, stream, hour) filter, creating it if
// absent.
func (m *MemFilterStore) Insert(ctx context.Context, org, stream, hour string, terms [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := filterKey(org, stream, hour)
	f, ok := m.filters[key]
	if !ok {
		f = cuckoo.NewFilter(filterCapacity)
		m.filters[key] = f
	}
	for _, t := range terms {
		f.InsertUnique(t)
	}
	return nil
}

// Has reports whether a filter has ever been created for (org, stream,
// hour).
func (m *MemFilterStore) Has(ctx context.Context, org, stream, hour string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.filters[filterKey(org, stream, hour)]
	return ok, nil
}

// Probe reports whether the (org, stream, hour) filter contains any of
// terms; an hour with no filter at all (nothing ever ingested for it)
// reports not found rather than erroring.
func (m *MemFilterStore) Probe(ctx context.Context, org, stream, hour string, terms [][]byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.filters[filterKey(org, stream, hour)]
	if !ok {
		return false, nil
	}
	for _, t := range terms {
		if f.Lookup(t) {
			return true, nil
		}
	}
	return false, nil
}

// QueryCuckooFilters probes store for every hour in hours, returning the
// subset that may contain terms (spec.md §6's CuckooFilterQuery). False
// positives are possible (that is the point of the structure); false
// negatives are not.
func QueryCuckooFilters(ctx context.Context, store FilterStore, org, stream string, hours []string, terms [][]byte) ([]string, error) {
	var found []string
	for _, hour := range hours {
		var (
			ok  bool
			err error
		)
		if len(terms) > 0 {
			ok, err = store.Probe(ctx, org, stream, hour, terms)
		} else {
			ok, err = store.Has(ctx, org, stream, hour)
		}
		if err != nil {
			return nil, corerr.Wrap(corerr.IoError, err)
		}
		if ok {
			found = append(found, hour)
		}
	}
	return found, nil
}
