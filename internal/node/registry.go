package node

import (
	"sync"
)

const DefaultCapacity = 50

// Registry is ordered set of known nodes. Insertion order is poll order.
// When full, Add evicts the oldest node: recently active nodes are preferred over historical ones.
// Safe for concurrent use: peer discovery arrives from transport goroutines.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	ids      []Id
}

func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		ids:      make([]Id, 0, capacity),
	}
}

// Add appends id unless already present.
// Returns evicted id and true if capacity forced eviction of index 0.
func (self *Registry) Add(id Id) (Id, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.indexLocked(id) >= 0 {
		return Zero, false
	}
	var evicted Id
	var did bool
	if len(self.ids) >= self.capacity {
		evicted, did = self.ids[0], true
		copy(self.ids, self.ids[1:])
		self.ids = self.ids[:len(self.ids)-1]
	}
	self.ids = append(self.ids, id)
	return evicted, did
}

func (self *Registry) Remove(id Id) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if i := self.indexLocked(id); i >= 0 {
		self.ids = append(self.ids[:i], self.ids[i+1:]...)
	}
}

func (self *Registry) Contains(id Id) bool {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.indexLocked(id) >= 0
}

func (self *Registry) Size() int {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return len(self.ids)
}

func (self *Registry) Cap() int { return self.capacity }

// At panics on index out of range, same as slice.
func (self *Registry) At(index int) Id {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.ids[index]
}

// Each iterates a snapshot in insertion order.
func (self *Registry) Each(fun func(int, Id)) {
	for i, id := range self.Ids() {
		fun(i, id)
	}
}

func (self *Registry) Ids() []Id {
	self.mu.RLock()
	defer self.mu.RUnlock()
	out := make([]Id, len(self.ids))
	copy(out, self.ids)
	return out
}

func (self *Registry) Clear() {
	self.mu.Lock()
	self.ids = self.ids[:0]
	self.mu.Unlock()
}

func (self *Registry) indexLocked(id Id) int {
	for i, x := range self.ids {
		if x == id {
			return i
		}
	}
	return -1
}
