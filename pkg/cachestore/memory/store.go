// Package memory provides an in-process cache store with LRU eviction.
package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/marmos91/urlimage/pkg/cachestore"
)

type entry struct {
	key  string
	data []byte
}

// Store is a size-bounded LRU map. Entries larger than the bound are not
// stored.
type Store struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	closed   bool
}

// New creates a store holding at most maxBytes of values. Zero or less
// means unbounded.
func New(maxBytes int64) *Store {
	return &Store{
		maxBytes: maxBytes,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, cachestore.ErrStoreClosed
	}
	el, ok := s.items[key]
	if !ok {
		return nil, cachestore.ErrNotFound
	}
	s.order.MoveToFront(el)

	data := el.Value.(*entry).data
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cachestore.ErrStoreClosed
	}

	n := int64(len(data))
	if s.maxBytes > 0 && n > s.maxBytes {
		s.remove(key)
		return nil
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		s.size += n - int64(len(e.data))
		e.data = stored
		s.order.MoveToFront(el)
	} else {
		s.items[key] = s.order.PushFront(&entry{key: key, data: stored})
		s.size += n
	}

	for s.maxBytes > 0 && s.size > s.maxBytes {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.remove(oldest.Value.(*entry).key)
	}
	return nil
}

func (s *Store) Evict(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cachestore.ErrStoreClosed
	}
	s.remove(key)
	return nil
}

func (s *Store) remove(key string) {
	el, ok := s.items[key]
	if !ok {
		return
	}
	s.order.Remove(el)
	delete(s.items, key)
	s.size -= int64(len(el.Value.(*entry).data))
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Size returns the total bytes held.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.items = nil
	s.order.Init()
	s.size = 0
	return nil
}

var _ cachestore.Store = (*Store)(nil)
