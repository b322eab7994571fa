package ingest

import (
	"sync"
)

const DefaultCapacity = 100

// Queue is bounded FIFO of reports.
// Full queue evicts oldest entry to admit new one, producer never blocks.
// Bounded loss is the policy: slow relay must not grow memory.
type Queue struct {
	mu       sync.Mutex
	buf      []Report // ring
	head     int
	size     int
	evicted  uint64
	capacity int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buf:      make([]Report, capacity),
		capacity: capacity,
	}
}

// Enqueue returns true if oldest report was evicted.
func (self *Queue) Enqueue(r Report) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	evict := self.size == self.capacity
	if evict {
		self.buf[self.head] = Report{}
		self.head = (self.head + 1) % self.capacity
		self.size--
		self.evicted++
	}
	self.buf[(self.head+self.size)%self.capacity] = r
	self.size++
	return evict
}

// DrainAll removes and returns all queued reports in arrival order.
func (self *Queue) DrainAll() []Report {
	self.mu.Lock()
	defer self.mu.Unlock()
	out := make([]Report, self.size)
	for i := 0; i < self.size; i++ {
		j := (self.head + i) % self.capacity
		out[i] = self.buf[j]
		self.buf[j] = Report{}
	}
	self.head, self.size = 0, 0
	return out
}

// Clear drops everything, returns number of dropped reports.
func (self *Queue) Clear() int {
	return len(self.DrainAll())
}

func (self *Queue) Len() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.size
}

func (self *Queue) Cap() int { return self.capacity }

// Evicted is total number of reports lost to overflow.
func (self *Queue) Evicted() uint64 {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.evicted
}
