package loadbalancer

import (
	"slices"
	"sync"
)

// LoadBalancer hands out items in round-robin order. Membership can be
// rebuilt at any time with SetItems; the cursor keeps its position modulo
// the new length so rebuilds stay fair.
type LoadBalancer[T comparable] struct {
	mu    sync.Mutex
	items []T
	next  int
}

func NewLoadBalancer[T comparable](items ...T) *LoadBalancer[T] {
	lb := &LoadBalancer[T]{}
	lb.SetItems(items...)

	return lb
}

// SetItems replaces the ring, deduplicating while preserving order.
func (l *LoadBalancer[T]) SetItems(items ...T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ring := make([]T, 0, len(items))

	for _, item := range items {
		if !slices.Contains(ring, item) {
			ring = append(ring, item)
		}
	}

	l.items = ring

	if len(l.items) == 0 {
		l.next = 0
	} else {
		l.next %= len(l.items)
	}
}

// Next returns the next item in the ring, reporting false when empty.
func (l *LoadBalancer[T]) Next() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.items) == 0 {
		return *new(T), false
	}

	item := l.items[l.next]
	l.next = (l.next + 1) % len(l.items)

	return item, true
}

// Len reports the current ring size.
func (l *LoadBalancer[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.items)
}
