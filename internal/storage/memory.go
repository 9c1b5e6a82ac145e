package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps blobs keyed by absolute URL. Writers returned by Writer are bound
// to one storage root, so several identities can share a store in tests and tools.
type MemoryStore struct {
	mu        sync.RWMutex
	blobs     map[string][]byte
	failures  map[string]error
	reads     map[string]int
	holds     map[string]chan struct{}
	cancelled map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:     make(map[string][]byte),
		failures:  make(map[string]error),
		reads:     make(map[string]int),
		holds:     make(map[string]chan struct{}),
		cancelled: make(map[string]int),
	}
}

func (s *MemoryStore) ReadBlob(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.reads[url]++
	hold := s.holds[url]
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			s.mu.Lock()
			s.cancelled[url]++
			s.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[url]; err != nil {
		return nil, err
	}
	data, ok := s.blobs[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(url string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[url] = append([]byte(nil), data...)
}

func (s *MemoryStore) Get(url string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[url]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (s *MemoryStore) Delete(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, url)
}

// FailReads makes every read of url return err until cleared with a nil err.
func (s *MemoryStore) FailReads(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, url)
		return
	}
	s.failures[url] = err
}

// HoldReads blocks reads of url until the returned release func is called or the
// reader's context ends.
func (s *MemoryStore) HoldReads(url string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[url] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.holds, url)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// CancelledReads counts held reads of url abandoned because their context ended.
func (s *MemoryStore) CancelledReads(url string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled[url]
}

func (s *MemoryStore) Reads(url string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[url]
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Writer returns a Writer that stores blobs below root.
func (s *MemoryStore) Writer(root string) Writer {
	return &memoryWriter{store: s, root: root}
}

type memoryWriter struct {
	store *MemoryStore
	root  string
}

func (w *memoryWriter) WriteBlob(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := CleanPath(p)
	if err != nil {
		return err
	}
	w.store.Put(JoinURL(w.root, clean), data)
	return nil
}
