package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

type revisionDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newRevisionDedupe(size int) *revisionDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &revisionDedupe{lru: c}
}

// returns true if rev is greater than the last one seen for source.
// Revision 0 means "bump" and is never deduplicated.
func (d *revisionDedupe) shouldApply(source string, rev uint64) bool {
	if rev == 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(source); ok && rev <= last {
		return false
	}
	d.lru.Add(source, rev)
	return true
}
