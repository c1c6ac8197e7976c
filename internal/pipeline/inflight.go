package pipeline

import "sync"

// inflight tracks documents with a run in progress. Acquiring a document
// that is already running records a rerun instead, so a re-index that arrives
// mid-run is processed once the current run finishes.
type inflight struct {
	mu   sync.Mutex
	docs map[string]bool // value: rerun requested
}

func newInflight() *inflight {
	return &inflight{docs: make(map[string]bool)}
}

// tryAcquire returns false if id is already running
func (f *inflight) tryAcquire(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, running := f.docs[id]; running {
		f.docs[id] = true
		return false
	}
	f.docs[id] = false
	return true
}

// release ends a run. If a rerun was requested the document stays acquired
// and release returns true.
func (f *inflight) release(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[id] {
		f.docs[id] = false
		return true
	}
	delete(f.docs, id)
	return false
}
