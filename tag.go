package usbtmc

import "sync"

// bulkTagAllocator produces monotonically incrementing 8-bit bulk tags in
// [1,255], wrapping 255->1 and never producing 0.
type bulkTagAllocator struct {
	mu   sync.Mutex
	last byte
}

func (a *bulkTagAllocator) next() byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last++
	if a.last == 0 {
		a.last = 1
	}
	return a.last
}

// interruptTagAllocator produces the USB488 interrupt-notification tag
// cycle, [2,127] wrapping 127->2.
type interruptTagAllocator struct {
	mu   sync.Mutex
	last byte
}

func newInterruptTagAllocator() *interruptTagAllocator {
	return &interruptTagAllocator{last: 1} // first next() yields 2
}

func (a *interruptTagAllocator) next() byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last++
	if a.last < 2 || a.last > 127 {
		a.last = 2
	}
	return a.last
}

func (a *interruptTagAllocator) current() byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last < 2 {
		return 2
	}
	return a.last
}
