package pipeline

import (
	"context"
	"sort"
	"sync"
)

// Results groups the results of one request by field name. Within a field,
// results are in the order the files were received.
type Results map[string][]Result

// Fields returns the field names in sorted order.
func (rs Results) Fields() []string {
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of files with status s.
func (rs Results) Count(s Status) int {
	n := 0
	for _, list := range rs {
		for _, r := range list {
			if r.Status == s {
				n++
			}
		}
	}
	return n
}

// Total returns the number of files.
func (rs Results) Total() int {
	n := 0
	for _, list := range rs {
		n += len(list)
	}
	return n
}

// Aggregator collects the futures of one request.
type Aggregator struct {
	mu      sync.Mutex
	entries map[string][]*Future
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{entries: make(map[string][]*Future)}
}

// Track appends f to the list of field. Calls for one field must be made
// in arrival order.
func (a *Aggregator) Track(field string, f *Future) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[field] = append(a.entries[field], f)
}

// Collect waits for every tracked file and groups the results. Fields with
// no files are omitted.
func (a *Aggregator) Collect(ctx context.Context) (Results, error) {
	a.mu.Lock()
	entries := make(map[string][]*Future, len(a.entries))
	for field, list := range a.entries {
		entries[field] = append([]*Future(nil), list...)
	}
	a.mu.Unlock()

	out := make(Results, len(entries))
	for field, list := range entries {
		if len(list) == 0 {
			continue
		}
		results := make([]Result, 0, len(list))
		for _, f := range list {
			r, err := f.Wait(ctx)
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		}
		out[field] = results
	}
	return out, nil
}
