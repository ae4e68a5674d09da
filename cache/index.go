package cache

import "container/list"

// index is an access-order linked mapping from key to *Header (§3
// "CacheIndex"). It combines a map with an auxiliary doubly-linked list
// that moves a node to the tail on every access, per the design note in
// §9 ("Access-ordered map for LRU"): pruning iterates head-first, which is
// the oldest-accessed entry.
type index struct {
	entries   map[string]*list.Element
	order     *list.List // front = least-recently-used, back = most-recently-used
	totalSize int64
}

func newIndex() *index {
	return &index{
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the header for key, marking it as most-recently-used.
func (idx *index) Get(key string) (*Header, bool) {
	el, ok := idx.entries[key]
	if !ok {
		return nil, false
	}
	idx.order.MoveToBack(el)
	return el.Value.(*Header), true
}

// Peek returns the header for key without affecting its access order.
func (idx *index) Peek(key string) (*Header, bool) {
	el, ok := idx.entries[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*Header), true
}

// Put inserts or replaces the header for key, adjusting totalSize by the
// delta between the new and any previous size, and marks it MRU.
func (idx *index) Put(h *Header) {
	if el, ok := idx.entries[key(h)]; ok {
		old := el.Value.(*Header)
		idx.totalSize += h.Size - old.Size
		el.Value = h
		idx.order.MoveToBack(el)
		return
	}
	el := idx.order.PushBack(h)
	idx.entries[key(h)] = el
	idx.totalSize += h.Size
}

// Remove deletes key from the index, if present, and returns its header.
func (idx *index) Remove(k string) (*Header, bool) {
	el, ok := idx.entries[k]
	if !ok {
		return nil, false
	}
	h := el.Value.(*Header)
	idx.order.Remove(el)
	delete(idx.entries, k)
	idx.totalSize -= h.Size
	return h, true
}

// Clear empties the index.
func (idx *index) Clear() {
	idx.entries = make(map[string]*list.Element)
	idx.order.Init()
	idx.totalSize = 0
}

// Len returns the number of entries currently indexed.
func (idx *index) Len() int { return idx.order.Len() }

// OldestFirst calls visit for every header in LRU order (oldest-accessed
// first), stopping early if visit returns false.
func (idx *index) OldestFirst(visit func(*Header) bool) {
	for el := idx.order.Front(); el != nil; {
		next := el.Next()
		if !visit(el.Value.(*Header)) {
			return
		}
		el = next
	}
}

func key(h *Header) string { return h.Key }
